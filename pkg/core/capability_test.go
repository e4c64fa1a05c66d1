// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/skillchain/pkg/errors"
)

func TestCapabilityValidate(t *testing.T) {
	tests := []struct {
		name string
		cap  Capability
		code errors.ErrorCode
	}{
		{name: "valid", cap: Capability{ID: "fetch", Inputs: []Parameter{{Name: "url"}}, Dependencies: []string{"auth"}}},
		{name: "empty id", cap: Capability{}, code: errors.CodeInvalidInput},
		{name: "duplicate input", cap: Capability{ID: "x", Inputs: []Parameter{{Name: "a"}, {Name: "a"}}}, code: errors.CodeInvalidInput},
		{name: "unnamed output", cap: Capability{ID: "x", Outputs: []Parameter{{Type: "string"}}}, code: errors.CodeInvalidInput},
		{name: "self dependency", cap: Capability{ID: "x", Dependencies: []string{"x"}}, code: errors.CodeCircularDependency},
		{name: "duplicate dependency", cap: Capability{ID: "x", Dependencies: []string{"y", "y"}}, code: errors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cap.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
		})
	}
}

func TestCapabilityCloneIsDeep(t *testing.T) {
	orig := Capability{
		ID:           "fetch",
		Capabilities: []string{"fetch"},
		Inputs:       []Parameter{{Name: "url", Type: "string", Required: true}},
		Metadata:     Metadata{Extra: map[string]string{"k": "v"}},
	}
	c := orig.Clone()
	c.Capabilities[0] = "changed"
	c.Inputs[0].Name = "changed"
	c.Metadata.Extra["k"] = "changed"

	assert.Equal(t, "fetch", orig.Capabilities[0])
	assert.Equal(t, "url", orig.Inputs[0].Name)
	assert.Equal(t, "v", orig.Metadata.Extra["k"])
}

func TestCapabilityLookups(t *testing.T) {
	c := Capability{
		ID:           "transform",
		Capabilities: []string{"Transform"},
		Inputs:       []Parameter{{Name: "data", Required: true}, {Name: "mode"}},
		Outputs:      []Parameter{{Name: "result"}},
	}
	_, ok := c.Input("data")
	assert.True(t, ok)
	_, ok = c.Output("data")
	assert.False(t, ok)
	assert.Len(t, c.RequiredInputs(), 1)
	assert.True(t, c.HasTag("transform"))
	assert.True(t, SameType("Data", "data"))
	assert.True(t, SameType("any", "url"))
	assert.False(t, SameType("url", "data"))
}

func TestHandlersAndSafeInvoke(t *testing.T) {
	h := Handlers{
		"ok": func(_ context.Context, in Values) (Values, error) {
			return Values{"echo": in["x"]}, nil
		},
		"boom": func(context.Context, Values) (Values, error) {
			panic("kaboom")
		},
		"fail": func(context.Context, Values) (Values, error) {
			return nil, stderrors.New("upstream 503")
		},
	}

	out, err := SafeInvoke(context.Background(), h, "ok", Values{"x": String("hi")})
	require.NoError(t, err)
	assert.True(t, out["echo"].Equal(String("hi")))

	_, err = SafeInvoke(context.Background(), h, "boom", nil)
	assert.True(t, errors.HasCode(err, errors.CodeToolExecution))

	_, err = SafeInvoke(context.Background(), h, "fail", nil)
	assert.True(t, errors.HasCode(err, errors.CodeToolExecution))
	assert.True(t, errors.As(err).Recoverable)

	_, err = SafeInvoke(context.Background(), h, "missing", nil)
	assert.True(t, errors.HasCode(err, errors.CodeCapabilityNotFound))
}

func TestDirectRunner(t *testing.T) {
	r := NewDirectRunner(Handlers{
		"ok": func(context.Context, Values) (Values, error) { return Values{"v": Number(1)}, nil },
	})
	res := r.Run(context.Background(), Invocation{StepID: "s1", CapabilityID: "ok"})
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, "ok", res.ExecutedBy)

	res = r.Run(context.Background(), Invocation{StepID: "s2", CapabilityID: "nope"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
}

func TestFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy(" Continue ")
	require.NoError(t, err)
	assert.Equal(t, PolicyContinue, p)

	assert.True(t, errors.HasCode(FailurePolicy("").Validate(), errors.CodeInvalidPlan))
	_, err = ParseFailurePolicy("retry-forever")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPlan))
}

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	require.NotEmpty(t, id)
	_, again := EnsureRunID(ctx)
	assert.Equal(t, id, again)
}
