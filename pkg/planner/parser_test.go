// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"strings"
	"testing"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

func TestParseJSON(t *testing.T) {
	payload := []byte(`{
  "id": "plan-json",
  "steps": [
    { "id": "fetch", "capability": "fetch", "inputs": { "url": { "ref": "input.url" } } },
    { "id": "transform", "capability": "transform",
      "inputs": { "data": { "ref": "fetch.data" }, "factor": 2 },
      "condition": "fetch.data",
      "retry": { "max_attempts": 3, "backoff_base": 1000000 } }
  ]
}`)
	plan, err := ParseJSON(payload)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if plan.ID != "plan-json" || len(plan.Steps) != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	ref, ok := plan.Steps[1].Inputs["data"].ContextRef()
	if !ok || ref != (ContextRef{Step: "fetch", Field: "data"}) {
		t.Fatalf("expected fetch.data reference, got %+v", plan.Steps[1].Inputs["data"])
	}
	if n, _ := plan.Steps[1].Inputs["factor"].Value().AsNumber(); n != 2 {
		t.Fatalf("expected literal factor 2, got %v", plan.Steps[1].Inputs["factor"].Value())
	}
	if plan.Steps[1].Condition.String() != "fetch.data" {
		t.Fatalf("unexpected condition: %q", plan.Steps[1].Condition)
	}
	if plan.Steps[1].Retry == nil || plan.Steps[1].Retry.MaxAttempts != 3 {
		t.Fatalf("unexpected retry: %+v", plan.Steps[1].Retry)
	}
}

func TestParseYAML(t *testing.T) {
	payload := []byte(`
id: plan-yaml
steps:
  - id: a
    capability: lookup
    parallel: true
    inputs:
      key: alpha
  - id: b
    capability: lookup
    parallel: true
    inputs:
      key: beta
  - id: merge
    capability: merge
    inputs:
      left: {ref: a.value}
      right: {ref: b.value}
    retry:
      max_attempts: 2
      backoff_base: 50ms
`)
	plan, err := ParseYAML(payload)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if groups := plan.Groups(); len(groups) != 2 || len(groups[0]) != 2 {
		t.Fatalf("unexpected groups: %d", len(groups))
	}
	if plan.Steps[2].Retry.BackoffBase.Milliseconds() != 50 {
		t.Fatalf("unexpected backoff: %v", plan.Steps[2].Retry.BackoffBase)
	}
	if !plan.Steps[2].Inputs["left"].IsRef() {
		t.Fatalf("expected left to be a reference")
	}
}

func TestParseRejectsInvalidPlans(t *testing.T) {
	cases := map[string]string{
		"forward ref": `
id: p
steps:
  - {id: a, capability: x, inputs: {v: {ref: b.out}}}
  - {id: b, capability: x}
`,
		"sibling ref": `
id: p
steps:
  - {id: a, capability: x, parallel: true}
  - {id: b, capability: x, parallel: true, inputs: {v: {ref: a.out}}}
`,
		"duplicate id": `
id: p
steps:
  - {id: a, capability: x}
  - {id: a, capability: y}
`,
		"reserved id": `
id: p
steps:
  - {id: input, capability: x}
`,
		"no steps": `id: p`,
	}
	for name, payload := range cases {
		_, err := ParseYAML([]byte(payload))
		if !errors.HasCode(err, errors.CodeInvalidPlan) {
			t.Fatalf("%s: expected INVALID_PLAN, got %v", name, err)
		}
	}

	if _, err := ParseYAML([]byte("id: p\nsteps:\n  - {id: a, capability: x, condition: 'a =='}\n")); err == nil {
		t.Fatalf("expected condition compile error")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	plan := &Plan{
		ID: "plan-rt",
		Steps: []Step{
			{ID: "fetch", Capability: "fetch", Inputs: map[string]Binding{
				"url": Literal(core.String("https://example.com")),
				// an object that looks like a reference must stay a literal
				"meta": Literal(core.Object(map[string]core.Value{"ref": core.String("not.a.ref")})),
			}},
			{ID: "save", Capability: "save", Condition: MustCondition("fetch.data contains 'x'"),
				Inputs: map[string]Binding{"data": Ref("fetch", "data")}},
		},
	}

	jsonPayload, err := MarshalJSON(plan, true)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	if !strings.Contains(string(jsonPayload), `"literal"`) {
		t.Fatalf("expected escaped literal in %s", jsonPayload)
	}
	parsedJSON, err := ParseJSON(jsonPayload)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if parsedJSON.Steps[0].Inputs["meta"].IsRef() {
		t.Fatalf("json round-trip turned a literal into a reference")
	}
	if !parsedJSON.Steps[1].Inputs["data"].IsRef() {
		t.Fatalf("json round-trip lost the reference")
	}

	yamlPayload, err := MarshalYAML(plan)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	parsedYAML, err := ParseYAML(yamlPayload)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if parsedYAML.Steps[1].Condition.String() != "fetch.data contains 'x'" {
		t.Fatalf("yaml round-trip mismatch: %q", parsedYAML.Steps[1].Condition)
	}
	if !parsedYAML.Steps[0].Inputs["meta"].Value().Equal(plan.Steps[0].Inputs["meta"].Value()) {
		t.Fatalf("yaml round-trip changed literal")
	}
}
