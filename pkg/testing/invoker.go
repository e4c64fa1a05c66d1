// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/skillchain/pkg/core"
)

// ScriptedInvoker is a core.Invoker whose behaviour is scripted per
// capability. Every call is recorded.
type ScriptedInvoker struct {
	mu      sync.Mutex
	scripts map[string]*Script
	calls   []Call
	// Fallthrough answers capabilities without a script. When nil they fail.
	Fallthrough core.Invoker
}

// Call records one invocation.
type Call struct {
	CapabilityID string
	Inputs       core.Values
	Err          error
	At           time.Time
}

// Script describes the responses of one capability. Queued responses are
// consumed in order; once empty the final response repeats.
type Script struct {
	queue []response
	final response
	delay time.Duration
}

type response struct {
	out     core.Values
	err     error
	panicky any
	fn      core.Handler
}

// NewScriptedInvoker creates an invoker with no scripts.
func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{scripts: make(map[string]*Script)}
}

// On returns the script for capabilityID, creating it on first use. A fresh
// script answers with empty outputs.
func (s *ScriptedInvoker) On(capabilityID string) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[capabilityID]
	if !ok {
		sc = &Script{final: response{out: core.Values{}}}
		s.scripts[capabilityID] = sc
	}
	return sc
}

// FailTimes queues n failures with err before the final response.
func (sc *Script) FailTimes(n int, err error) *Script {
	for i := 0; i < n; i++ {
		sc.queue = append(sc.queue, response{err: err})
	}
	return sc
}

// Then queues a single successful response.
func (sc *Script) Then(out core.Values) *Script {
	sc.queue = append(sc.queue, response{out: out})
	return sc
}

// Return sets the final response.
func (sc *Script) Return(out core.Values) *Script {
	sc.final = response{out: out}
	return sc
}

// Fail makes every remaining call fail with err.
func (sc *Script) Fail(err error) *Script {
	sc.final = response{err: err}
	return sc
}

// Panic makes every remaining call panic with v.
func (sc *Script) Panic(v any) *Script {
	sc.final = response{panicky: v}
	return sc
}

// Handle delegates remaining calls to fn.
func (sc *Script) Handle(fn core.Handler) *Script {
	sc.final = response{fn: fn}
	return sc
}

// Delay sleeps before every response, honouring cancellation.
func (sc *Script) Delay(d time.Duration) *Script {
	sc.delay = d
	return sc
}

// Invoke implements core.Invoker.
func (s *ScriptedInvoker) Invoke(ctx context.Context, capabilityID string, inputs core.Values) (core.Values, error) {
	s.mu.Lock()
	sc, ok := s.scripts[capabilityID]
	var r response
	var delay time.Duration
	if ok {
		if len(sc.queue) > 0 {
			r = sc.queue[0]
			sc.queue = sc.queue[1:]
		} else {
			r = sc.final
		}
		delay = sc.delay
	}
	fallthroughInvoker := s.Fallthrough
	s.mu.Unlock()

	var out core.Values
	var err error
	panicked := true
	defer func() {
		if panicked {
			err = fmt.Errorf("capability %q panicked", capabilityID)
		}
		s.record(capabilityID, inputs, err)
	}()
	switch {
	case !ok && fallthroughInvoker != nil:
		out, err = fallthroughInvoker.Invoke(ctx, capabilityID, inputs)
	case !ok:
		err = fmt.Errorf("no script for capability %q", capabilityID)
	default:
		out, err = s.respond(ctx, r, delay, inputs)
	}
	panicked = false
	return out, err
}

func (s *ScriptedInvoker) respond(ctx context.Context, r response, delay time.Duration, inputs core.Values) (core.Values, error) {
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	switch {
	case r.panicky != nil:
		panic(r.panicky)
	case r.fn != nil:
		return r.fn(ctx, inputs)
	case r.err != nil:
		return nil, r.err
	}
	return r.out.Clone(), nil
}

func (s *ScriptedInvoker) record(capabilityID string, inputs core.Values, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{CapabilityID: capabilityID, Inputs: inputs.Clone(), Err: err, At: time.Now()})
}

// Calls returns a copy of every recorded call.
func (s *ScriptedInvoker) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times capabilityID was invoked.
func (s *ScriptedInvoker) CallCount(capabilityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.CapabilityID == capabilityID {
			n++
		}
	}
	return n
}

// Order returns the invoked capability ids in call order.
func (s *ScriptedInvoker) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.CapabilityID
	}
	return out
}

// Reset forgets recorded calls. Scripts are kept.
func (s *ScriptedInvoker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// StubEmbedder returns fixed vectors per text. Unknown texts get Default,
// or Err when it is set.
type StubEmbedder struct {
	Vectors map[string][]float32
	Default []float32
	Err     error

	mu    sync.Mutex
	calls int
}

// Embed implements memory.Embedder.
func (e *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if v, ok := e.Vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return append([]float32(nil), e.Default...), nil
}

// Calls returns how many times Embed was called.
func (e *StubEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
