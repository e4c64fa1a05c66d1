// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/skillchain/pkg/errors"
)

const manifest = `capabilities:
  - id: fetch
    description: Fetch data
    capabilities: [fetch]
    inputs: [{name: url, type: url, required: true}]
    outputs: [{name: data, type: data}]
    metadata: {category: io, cost: 2}
  - id: transform
    description: Transform data records
    capabilities: [transform]
    inputs: [{name: data, type: data, required: true}]
    outputs: [{name: result, type: result}]
    dependencies: [fetch]
  - id: save
    description: Save result to storage
    capabilities: [save]
    inputs: [{name: result, type: result, required: true}]
    outputs: [{name: saved, type: saved}]
    dependencies: [transform]
    metadata: {category: io}
`

const plan = `id: pipeline
steps:
  - id: fetch
    capability: fetch
    inputs:
      url: {ref: input.url}
  - id: transform
    capability: transform
    inputs:
      data: {ref: fetch.data}
`

func setup(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "capabilities.yaml")
	planPath := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(planPath, []byte(plan), 0o600); err != nil {
		t.Fatal(err)
	}
	return manifestPath, planPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestParseGlobalFlags(t *testing.T) {
	flags, rest, err := parseGlobalFlags([]string{
		"--config", "c.yaml", "--json", "--skills=./skills", "--timeout", "5s", "--set", "log.level=debug", "list", "--tag", "x",
	})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if !flags.JSON || flags.SkillsDir != "./skills" || flags.Timeout.String() != "5s" {
		t.Errorf("unexpected flags %+v", flags)
	}
	if strings.Join(flags.ConfigArgs, " ") != "--config c.yaml --set log.level=debug" {
		t.Errorf("config args = %v", flags.ConfigArgs)
	}
	if strings.Join(rest, " ") != "list --tag x" {
		t.Errorf("rest = %v", rest)
	}

	if _, _, err := parseGlobalFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	if _, _, err := parseGlobalFlags([]string{"--timeout", "soon"}); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestListAndFilters(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--set", "skills.manifest="+m, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, id := range []string{"fetch", "transform", "save"} {
		if !strings.Contains(out, id) {
			t.Errorf("list output missing %s:\n%s", id, out)
		}
	}

	out, err = runCLI(t, "--json", "--set", "skills.manifest="+m, "list", "--category", "io")
	if err != nil {
		t.Fatalf("list --category: %v", err)
	}
	var caps []map[string]any
	if err := json.Unmarshal([]byte(out), &caps); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(caps) != 2 {
		t.Errorf("expected 2 io capabilities, got %d", len(caps))
	}
}

func TestListStats(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--json", "--set", "skills.manifest="+m, "list", "--stats")
	if err != nil {
		t.Fatalf("list --stats: %v", err)
	}
	var res struct {
		Capabilities []map[string]any `json:"capabilities"`
		Categories   []struct {
			Category string `json:"category"`
			Count    int    `json:"count"`
		} `json:"categories"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(res.Capabilities) != 3 {
		t.Errorf("expected 3 capabilities, got %d", len(res.Capabilities))
	}
	got := map[string]int{}
	for _, c := range res.Categories {
		got[c.Category] = c.Count
	}
	if got["io"] != 2 || got["-"] != 1 || len(got) != 2 {
		t.Errorf("unexpected category counts: %v", got)
	}

	out, err = runCLI(t, "--set", "skills.manifest="+m, "list", "--stats")
	if err != nil {
		t.Fatalf("list --stats: %v", err)
	}
	if !strings.Contains(out, "COUNT") {
		t.Errorf("text output missing category table:\n%s", out)
	}
}

func writeSkillFile(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: " + name + "\ndescription: The " + name + " skill.\n---\n\n" + body
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRequiredSections(t *testing.T) {
	root := t.TempDir()
	writeSkillFile(t, root, "complete", "# Complete\n\n## Overview\n\nText.\n\n## Best Practices\n\n- One.\n")
	writeSkillFile(t, root, "sparse", "# Sparse\n\n## Overview\n\nText.\n")

	out, err := runCLI(t, "--json", "--skills", root, "validate")
	if err == nil {
		t.Fatalf("expected validate to fail:\n%s", out)
	}
	var res validateResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.Valid || len(res.Problems) != 1 || res.Problems[0] != "sparse: missing sections: Best Practices" {
		t.Errorf("unexpected result: %+v", res)
	}

	out, err = runCLI(t, "--skills", root, "--set", "skills.required_sections=[]", "validate")
	if err != nil {
		t.Fatalf("validate with no required sections: %v\n%s", err, out)
	}
}

func TestResolveAndGraph(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--json", "--set", "skills.manifest="+m, "resolve", "save")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var res struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if strings.Join(res.Order, ",") != "fetch,transform,save" {
		t.Errorf("order = %v", res.Order)
	}

	out, err = runCLI(t, "--set", "skills.manifest="+m, "graph", "save", "--output", "dot")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if !strings.Contains(out, "digraph") {
		t.Errorf("expected dot output, got:\n%s", out)
	}

	_, err = runCLI(t, "--set", "skills.manifest="+m, "resolve", "nope")
	if !errors.HasCode(err, errors.CodeCapabilityNotFound) {
		t.Errorf("expected CAPABILITY_NOT_FOUND, got %v", err)
	}
}

func TestCompat(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--json", "--set", "skills.manifest="+m, "compat", "fetch", "transform")
	if err != nil {
		t.Fatalf("compat: %v", err)
	}
	var res struct {
		Compatible bool `json:"compatible"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Compatible {
		t.Errorf("fetch -> transform should be compatible: %s", out)
	}
}

func TestComposeAndRunChain(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--json", "--set", "skills.manifest="+m,
		"compose", "fetch, transform, save data", "--run", "--input", "url=http://example.com")
	if err != nil {
		t.Fatalf("compose: %v\n%s", err, out)
	}
	var res composeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if strings.Join(res.Capabilities, ",") != "fetch,transform,save" {
		t.Errorf("capabilities = %v", res.Capabilities)
	}
	if res.Execution == nil || !res.Execution.Success {
		t.Fatalf("chain run failed: %+v", res.Execution)
	}
}

func TestRunPlan(t *testing.T) {
	m, p := setup(t)
	out, err := runCLI(t, "--json", "--set", "skills.manifest="+m,
		"run", "--plan", p, "--input", "url=http://example.com", "--policy", "abort")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var rep executionReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if !rep.Success || len(rep.Steps) != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Outputs["transform.result"] != "http://example.com" {
		t.Errorf("echoed result = %v", rep.Outputs["transform.result"])
	}

	_, err = runCLI(t, "--set", "skills.manifest="+m, "run", "--plan", p, "--input", "url=x", "--policy", "later")
	if !errors.HasCode(err, errors.CodeInvalidPlan) {
		t.Errorf("expected INVALID_PLAN for bad policy, got %v", err)
	}
}

func TestRunPlanWithSQLiteAudit(t *testing.T) {
	m, p := setup(t)
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db")
	common := []string{
		"--set", "skills.manifest=" + m,
		"--set", "audit.enabled=true",
		"--set", "audit.driver=sqlite",
		"--set", "audit.dsn=" + dsn,
	}
	if _, err := runCLI(t, append(common, "run", "--plan", p, "--input", "url=u")...); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := runCLI(t, append(append([]string{"--json"}, common...), "audit", "--plan", "pipeline")...)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var events []map[string]any
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 audit events, got %d", len(events))
	}
}

func TestValidateAndUnknownCommand(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--set", "skills.manifest="+m, "validate")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 capabilities checked") {
		t.Errorf("unexpected output:\n%s", out)
	}

	_, err = runCLI(t, "frobnicate")
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestParseInputs(t *testing.T) {
	in, err := parseInputs([]string{"n=3", "s=hello", `l=[1,2]`})
	if err != nil {
		t.Fatalf("parseInputs: %v", err)
	}
	if n, _ := in["n"].AsNumber(); n != 3 {
		t.Errorf("n = %v", in["n"].Any())
	}
	if in["s"].Any() != "hello" {
		t.Errorf("s = %v", in["s"].Any())
	}
	if items, ok := in["l"].Items(); !ok || len(items) != 2 {
		t.Errorf("l = %v", in["l"].Any())
	}
	if _, err := parseInputs([]string{"novalue"}); err == nil {
		t.Error("expected error")
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.New(errors.CodeCapabilityNotFound, "capability \"x\" not found", nil), true)
	var payload struct {
		Error struct {
			Code string `json:"code"`
			Hint string `json:"hint"`
		} `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Error.Code != string(errors.CodeCapabilityNotFound) || payload.Error.Hint == "" {
		t.Errorf("unexpected payload %s", buf.String())
	}
}

func TestHealth(t *testing.T) {
	m, _ := setup(t)
	out, err := runCLI(t, "--json", "--set", "skills.manifest="+m, "--set", "audit.enabled=true", "health")
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	var report healthReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if report.Status != "HEALTHY" {
		t.Errorf("status = %s", report.Status)
	}
	var names []string
	for _, c := range report.Components {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "audit,embedder,registry" {
		t.Errorf("components = %v", names)
	}

	out, err = runCLI(t, "--set", "embedder.provider=none", "health")
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	if !strings.Contains(out, "DEGRADED") || !strings.Contains(out, "no capabilities registered") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
