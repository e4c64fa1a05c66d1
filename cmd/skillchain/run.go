// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/optimizer"
	"github.com/jllopis/skillchain/pkg/planner"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

type stepReport struct {
	Step       string `json:"step"`
	Capability string `json:"capability"`
	ExecutedBy string `json:"executed_by,omitempty"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	Fallback   string `json:"fallback,omitempty"`
	Error      string `json:"error,omitempty"`
	Duration   string `json:"duration"`
}

type executionReport struct {
	RunID    string         `json:"run_id"`
	Success  bool           `json:"success"`
	Duration string         `json:"duration"`
	Steps    []stepReport   `json:"steps"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

func newExecutionReport(res *core.ExecutionResult) *executionReport {
	rep := &executionReport{
		RunID:    res.RunID,
		Success:  res.Success,
		Duration: res.Duration.String(),
		Outputs:  res.Outputs.Plain(),
		Errors:   res.ErrorMessages(),
	}
	for _, s := range res.Steps {
		sr := stepReport{
			Step:       s.StepID,
			Capability: s.CapabilityID,
			ExecutedBy: s.ExecutedBy,
			Status:     string(s.Status),
			Attempts:   len(s.Attempts),
			Fallback:   s.FallbackID,
			Duration:   s.Duration.String(),
		}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		rep.Steps = append(rep.Steps, sr)
	}
	return rep
}

func printExecution(w io.Writer, rep *executionReport) {
	fmt.Fprintf(w, "run %s success=%t duration=%s\n", rep.RunID, rep.Success, rep.Duration)
	tw := newTabWriter(w)
	writeRow(tw, "STEP", "CAPABILITY", "STATUS", "ATTEMPTS", "EXECUTED_BY", "ERROR")
	for _, s := range rep.Steps {
		writeRow(tw, s.Step, s.Capability, s.Status, fmt.Sprint(s.Attempts), s.ExecutedBy, truncate(s.Error, 60))
	}
	_ = tw.Flush()
	if len(rep.Outputs) > 0 {
		data, _ := json.MarshalIndent(rep.Outputs, "", "  ")
		fmt.Fprintf(w, "outputs:\n%s\n", data)
	}
}

// runFailed turns a failed execution into the command's error.
func runFailed(res *core.ExecutionResult) error {
	if res == nil || res.Success {
		return nil
	}
	if err := res.Err(); err != nil {
		return err
	}
	return fmt.Errorf("run %s failed", res.RunID)
}

// parseInputs decodes repeated key=value flags. Values are read as JSON when
// possible and as plain strings otherwise.
func parseInputs(pairs []string) (core.Values, error) {
	out := make(core.Values, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, newInvalidArgumentError(pair, "expected key=value")
		}
		var plain any = raw
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			plain = decoded
		}
		v, err := core.FromAny(plain)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "input "+key, err)
		}
		out[key] = v
	}
	return out, nil
}

type planFlags struct {
	path   string
	policy string
	inputs multiFlag
}

func (c *cli) parsePlanFlags(name string, args []string, extra func(*flag.FlagSet)) (planFlags, error) {
	var pf planFlags
	fs := c.flagSet(name)
	fs.StringVar(&pf.path, "plan", "", "Plan file (YAML or JSON)")
	fs.StringVar(&pf.policy, "policy", c.app.cfg.Executor.Policy, "Failure policy: abort or continue")
	fs.Var(&pf.inputs, "input", "Plan input key=value (repeatable)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return pf, err
	}
	if pf.path == "" {
		return pf, newInvalidArgumentError("--plan", "a plan file is required")
	}
	return pf, nil
}

func (c *cli) run(ctx context.Context, args []string) error {
	pf, err := c.parsePlanFlags("run", args, nil)
	if err != nil {
		return err
	}
	plan, err := planner.LoadPlan(pf.path)
	if err != nil {
		return err
	}
	policy, err := core.ParseFailurePolicy(pf.policy)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(pf.inputs)
	if err != nil {
		return err
	}

	res := c.app.planExecutor(policy).Execute(ctx, plan, inputs)
	rep := newExecutionReport(res)
	if c.json {
		if err := printJSON(c.out, rep); err != nil {
			return err
		}
	} else {
		printExecution(c.out, rep)
	}
	return runFailed(res)
}

type optimizeResult struct {
	Report optimizer.Report `json:"report"`
	Plan   *planner.Plan    `json:"plan"`
}

func (c *cli) optimize(ctx context.Context, args []string) error {
	var rounds int
	var outPath string
	pf, err := c.parsePlanFlags("optimize", args, func(fs *flag.FlagSet) {
		fs.IntVar(&rounds, "rounds", 0, "Maximum improvement rounds (0 uses the default)")
		fs.StringVar(&outPath, "out", "", "Write the optimized plan to this file")
	})
	if err != nil {
		return err
	}
	plan, err := planner.LoadPlan(pf.path)
	if err != nil {
		return err
	}
	policy, err := core.ParseFailurePolicy(pf.policy)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(pf.inputs)
	if err != nil {
		return err
	}

	opts := []optimizer.Option{optimizer.WithLogger(telemetry.Component(c.app.logger, "optimizer"))}
	if rounds > 0 {
		opts = append(opts, optimizer.WithRounds(rounds))
	}
	best, report, err := optimizer.New(c.app.planExecutor(policy), opts...).Optimize(ctx, plan, inputs)
	if err != nil {
		return err
	}

	if outPath != "" {
		data, err := planner.MarshalYAML(best)
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return err
		}
	}

	if c.json {
		return printJSON(c.out, optimizeResult{Report: report, Plan: best})
	}
	fmt.Fprintf(c.out, "baseline score %.3f, best score %.3f (%d candidates, %d discarded, %d rounds)\n",
		report.Baseline.Score(), report.Best.Score(), report.Evaluated, report.Discarded, report.Rounds)
	if !report.Improved() {
		fmt.Fprintln(c.out, "plan is already optimal for the tried edits")
		return nil
	}
	for _, edit := range report.Applied {
		fmt.Fprintf(c.out, "  applied: %s\n", edit)
	}
	return nil
}

func (c *cli) audit(ctx context.Context, args []string) error {
	if c.app.audit == nil {
		return newInvalidArgumentError("audit", "audit is disabled; set audit.enabled=true")
	}
	fs := c.flagSet("audit")
	var filter planner.AuditFilter
	fs.StringVar(&filter.PlanID, "plan", "", "Filter by plan id")
	fs.StringVar(&filter.RunID, "run", "", "Filter by run id")
	fs.StringVar(&filter.StepID, "step", "", "Filter by step id")
	fs.StringVar(&filter.Status, "status", "", "Filter by step status")
	fs.IntVar(&filter.Limit, "limit", 50, "Maximum events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	events, err := c.app.audit.List(ctx, filter)
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, events)
	}
	w := newTabWriter(c.out)
	writeRow(w, "RUN", "PLAN", "STEP", "CAPABILITY", "STATUS", "ATTEMPTS", "ERROR")
	for _, ev := range events {
		writeRow(w, ev.RunID, ev.PlanID, ev.StepID, ev.CapabilityID, ev.Status, fmt.Sprint(ev.Attempts), truncate(ev.Error, 50))
	}
	return w.Flush()
}
