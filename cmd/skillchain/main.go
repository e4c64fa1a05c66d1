// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command skillchain inspects a capability registry and runs plans and
// chains composed from it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jllopis/skillchain/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	SkillsDir  string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		printError(os.Stderr, err, jsonRequested(os.Args[1:]))
		stop()
		os.Exit(1)
	}
}

// run parses global flags, loads configuration and dispatches the command.
func run(ctx context.Context, argv []string, out io.Writer) error {
	global, args, err := parseGlobalFlags(argv)
	if err != nil {
		return err
	}
	if global.Help || len(args) == 0 {
		printUsage(out)
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help":
		printUsage(out)
		return nil
	case "version":
		fmt.Fprintln(out, version)
		return nil
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		return newConfigError(err)
	}
	if global.SkillsDir != "" {
		cfg.Skills.Dir = global.SkillsDir
	}

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	c := &cli{app: a, out: out, json: global.JSON}
	switch cmd {
	case "list":
		return c.list(rest)
	case "validate":
		return c.validate(rest)
	case "discover":
		return c.discover(ctx, rest)
	case "resolve":
		return c.resolve(rest)
	case "graph":
		return c.graph(rest)
	case "compat":
		return c.compat(rest)
	case "compose":
		return c.compose(ctx, rest)
	case "run":
		return c.run(ctx, rest)
	case "optimize":
		return c.optimize(ctx, rest)
	case "audit":
		return c.audit(ctx, rest)
	case "health":
		return c.health(ctx, rest)
	default:
		return newInvalidArgumentError(cmd, "unknown command")
	}
}

func parseGlobalFlags(argv []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 60 * time.Second}

	configArgs, args, err := config.SplitArgs(argv)
	if err != nil {
		return flags, nil, err
	}
	flags.ConfigArgs = configArgs

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--skills":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --skills")
			}
			flags.SkillsDir = args[i+1]
			i++
		case strings.HasPrefix(arg, "--skills="):
			flags.SkillsDir = strings.TrimPrefix(arg, "--skills=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func jsonRequested(argv []string) bool {
	for _, a := range argv {
		if a == "--json" {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `skillchain: capability registry and orchestration

Usage:
  skillchain [global flags] <command> [args]

Global flags:
  --config <path>      YAML or JSON config file
  --profile <name>     Overlay <config>.<name>.yaml
  --set key=value      Override config (repeatable)
  --skills <dir>       Load SKILL.md capabilities from dir
  --timeout <dur>      Overall timeout (default 60s)
  --json               JSON output

Commands:
  list [--category c] [--tag t] [--search q] [--stats]
  validate
  discover <query> [--top n] [--all]
  resolve <capability>
  graph <capability> [--output mermaid|dot|json]
  compat <a> <b>
  compose <task> [--max n] [--run] [--input k=v]
  run --plan <file> [--input k=v] [--policy abort|continue]
  optimize --plan <file> [--input k=v] [--rounds n] [--out file]
  audit [--run id] [--plan id] [--step id] [--status s] [--limit n]
  health
  version
`)
}

func printJSON(w io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func truncate(value string, limit int) string {
	value = normalizeCell(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
