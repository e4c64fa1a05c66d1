// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads skillchain settings from defaults, a YAML or JSON
// file, an optional profile overlay, SKILLCHAIN_* environment variables and
// --set overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. The first underscore after the
// prefix separates the section from the key: SKILLCHAIN_EXECUTOR_MAX_ATTEMPTS
// sets executor.max_attempts.
const EnvPrefix = "SKILLCHAIN_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	Vector    VectorConfig    `koanf:"vector"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Compose   ComposeConfig   `koanf:"compose"`
	Skills    SkillsConfig    `koanf:"skills"`
	Audit     AuditConfig     `koanf:"audit"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // none, stdout, otlp
	ServiceName        string            `koanf:"service_name"`
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
}

type DiscoveryConfig struct {
	Threshold       float64 `koanf:"threshold"`
	SemanticWeight  float64 `koanf:"semantic_weight"`
	KeywordWeight   float64 `koanf:"keyword_weight"`
	TagWeight       float64 `koanf:"tag_weight"`
	CacheTTLSeconds int     `koanf:"cache_ttl_seconds"`
	// UseIndex scores semantic similarity through the vector store.
	UseIndex bool `koanf:"use_index"`
}

type EmbedderConfig struct {
	Provider       string `koanf:"provider"` // hash, ollama, none
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	Dimensions     int    `koanf:"dimensions"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

type VectorConfig struct {
	Provider   string `koanf:"provider"` // memory, qdrant
	QdrantAddr string `koanf:"qdrant_addr"`
	Collection string `koanf:"collection"`
}

type ExecutorConfig struct {
	Policy           string              `koanf:"policy"` // abort, continue
	MaxParallel      int                 `koanf:"max_parallel"`
	MaxAttempts      int                 `koanf:"max_attempts"`
	BackoffMs        int                 `koanf:"backoff_ms"`
	MaxDelayMs       int                 `koanf:"max_delay_ms"`
	AttemptTimeoutMs int                 `koanf:"attempt_timeout_ms"`
	Fallbacks        map[string][]string `koanf:"fallbacks"`
	CircuitBreaker   BreakerConfig       `koanf:"circuit_breaker"`
}

type BreakerConfig struct {
	Enabled          bool `koanf:"enabled"`
	FailureThreshold int  `koanf:"failure_threshold"`
	SuccessThreshold int  `koanf:"success_threshold"`
	TimeoutSeconds   int  `koanf:"timeout_seconds"`
}

type ComposeConfig struct {
	MaxLength int `koanf:"max_length"`
	// ExclusiveResources makes shared resource claims a compatibility issue.
	ExclusiveResources bool `koanf:"exclusive_resources"`
}

type SkillsConfig struct {
	Dir      string `koanf:"dir"`
	Manifest string `koanf:"manifest"`
	// RequiredSections are the body headings validate expects in every
	// SKILL.md. An empty list disables the check.
	RequiredSections []string `koanf:"required_sections"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"` // memory, sqlite
	DSN     string `koanf:"dsn"`
}

type MCPConfig struct {
	Transport       string            `koanf:"transport"` // stdio, http
	Command         string            `koanf:"command"`
	Args            []string          `koanf:"args"`
	URL             string            `koanf:"url"`
	ProtocolVersion string            `koanf:"protocol_version"`
	TimeoutSeconds  int               `koanf:"timeout_seconds"`
	RetryCount      int               `koanf:"retry_count"`
	RetryBackoffMs  int               `koanf:"retry_backoff_ms"`
	CacheTTLSeconds int               `koanf:"cache_ttl_seconds"`
	ImportTools     bool              `koanf:"import_tools"`
	Tools           map[string]string `koanf:"tools"` // capability id -> tool name
}

// Enabled reports whether an MCP server is configured.
func (m MCPConfig) Enabled() bool {
	return strings.TrimSpace(m.Command) != "" || strings.TrimSpace(m.URL) != ""
}

// Backoff returns the retry backoff base.
func (e ExecutorConfig) Backoff() time.Duration { return time.Duration(e.BackoffMs) * time.Millisecond }

// MaxDelay returns the backoff cap.
func (e ExecutorConfig) MaxDelay() time.Duration {
	return time.Duration(e.MaxDelayMs) * time.Millisecond
}

// AttemptTimeout returns the per-attempt timeout, zero when disabled.
func (e ExecutorConfig) AttemptTimeout() time.Duration {
	return time.Duration(e.AttemptTimeoutMs) * time.Millisecond
}

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.service_name", "skillchain")
	k.Set("telemetry.otlp_insecure", true)
	k.Set("telemetry.otlp_timeout_seconds", 10)

	k.Set("discovery.threshold", 0.5)
	k.Set("discovery.semantic_weight", 0.4)
	k.Set("discovery.keyword_weight", 0.3)
	k.Set("discovery.tag_weight", 0.3)
	k.Set("discovery.cache_ttl_seconds", 600)
	k.Set("discovery.use_index", false)

	k.Set("embedder.provider", "hash")
	k.Set("embedder.base_url", "http://localhost:11434")
	k.Set("embedder.model", "nomic-embed-text")
	k.Set("embedder.dimensions", 256)
	k.Set("embedder.timeout_seconds", 30)

	k.Set("vector.provider", "memory")
	k.Set("vector.qdrant_addr", "localhost:6334")
	k.Set("vector.collection", "skillchain_capabilities")

	k.Set("executor.policy", "abort")
	k.Set("executor.max_parallel", 0)
	k.Set("executor.max_attempts", 3)
	k.Set("executor.backoff_ms", 100)
	k.Set("executor.max_delay_ms", 10000)
	k.Set("executor.attempt_timeout_ms", 0)
	k.Set("executor.circuit_breaker.enabled", false)
	k.Set("executor.circuit_breaker.failure_threshold", 5)
	k.Set("executor.circuit_breaker.success_threshold", 2)
	k.Set("executor.circuit_breaker.timeout_seconds", 30)

	k.Set("compose.max_length", 5)
	k.Set("compose.exclusive_resources", false)

	k.Set("skills.dir", "")
	k.Set("skills.manifest", "")
	k.Set("skills.required_sections", []string{"Overview", "Best Practices"})

	k.Set("audit.enabled", false)
	k.Set("audit.driver", "memory")
	k.Set("audit.dsn", "file:skillchain-audit.db")

	k.Set("mcp.transport", "stdio")
	k.Set("mcp.timeout_seconds", 10)
	k.Set("mcp.retry_count", 2)
	k.Set("mcp.retry_backoff_ms", 200)
	k.Set("mcp.cache_ttl_seconds", 30)
}

// Load reads defaults, the file at path (if any) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus an overlay file next to path named
// <name>.<profile><ext>. A profile without an overlay file is ignored.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(cliOverrides{configPath: path, profile: profile})
}

// LoadWithCLI reads --config, --profile (alias --env) and repeated --set
// key=value flags from args; anything else is ignored. --set values are
// decoded as JSON when possible and applied last.
func LoadWithCLI(args []string) (*Config, error) {
	o, _, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(o)
}

type cliOverrides struct {
	configPath string
	profile    string
	sets       [][2]string
}

func load(o cliOverrides) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if o.configPath != "" {
		if err := k.Load(file.Provider(o.configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
		}
		if overlay := profileConfigPath(o.configPath, o.profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", overlay, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for _, kv := range o.sets {
		if err := k.Set(kv[0], parseSetValue(kv[1])); err != nil {
			return nil, fmt.Errorf("--set %s: %w", kv[0], err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseCLIOverrides extracts the configuration flags and returns the
// remaining arguments untouched.
func parseCLIOverrides(args []string) (cliOverrides, []string, error) {
	var o cliOverrides
	var rest []string
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "-config", "--profile", "-profile", "--env", "-env", "--set", "-set":
		default:
			rest = append(rest, args[i])
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return o, nil, fmt.Errorf("flag %s needs a value", name)
			}
			i++
			value = args[i]
		}
		switch strings.TrimLeft(name, "-") {
		case "config":
			o.configPath = value
		case "profile", "env":
			o.profile = value
		case "set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return o, nil, fmt.Errorf("--set expects key=value, got %q", value)
			}
			o.sets = append(o.sets, [2]string{strings.TrimSpace(key), raw})
		}
	}
	return o, rest, nil
}

// SplitArgs separates configuration flags from the rest of args. The CLI
// uses it so subcommands never see --config, --profile or --set.
func SplitArgs(args []string) (configArgs, rest []string, err error) {
	o, rest, err := parseCLIOverrides(args)
	if err != nil {
		return nil, nil, err
	}
	if o.configPath != "" {
		configArgs = append(configArgs, "--config", o.configPath)
	}
	if o.profile != "" {
		configArgs = append(configArgs, "--profile", o.profile)
	}
	for _, kv := range o.sets {
		configArgs = append(configArgs, "--set", kv[0]+"="+kv[1])
	}
	return configArgs, rest, nil
}

func parseSetValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// profileConfigPath returns the overlay for profile next to base, or "" when
// either is empty or the file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	path := filepath.Join(filepath.Dir(base), name+"."+profile+ext)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
