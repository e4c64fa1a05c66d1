// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"
	"testing"
	"time"
)

func sampleAuditEvent() AuditEvent {
	return AuditEvent{
		PlanID:       "plan-1",
		RunID:        "run-1",
		StepID:       "fetch",
		CapabilityID: "fetch",
		ExecutedBy:   "fetch-mirror",
		Status:       "succeeded_via_fallback",
		Attempts:     4,
		Output:       map[string]any{"ok": true},
		StartedAt:    time.Now().UTC(),
		FinishedAt:   time.Now().UTC(),
	}
}

func TestMemoryAuditStore(t *testing.T) {
	store := NewMemoryAuditStore()
	if err := store.Record(context.Background(), sampleAuditEvent()); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := store.List(context.Background(), AuditFilter{PlanID: "plan-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].StepID != "fetch" {
		t.Fatalf("unexpected step id: %s", events[0].StepID)
	}
	events, _ = store.List(context.Background(), AuditFilter{Status: "failed"})
	if len(events) != 0 {
		t.Fatalf("expected status filter to exclude event")
	}
}

func TestSQLiteAuditStore(t *testing.T) {
	store, err := OpenSQLiteAuditStore("file:skillchain_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	if err := store.Record(context.Background(), sampleAuditEvent()); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := store.List(context.Background(), AuditFilter{PlanID: "plan-1", RunID: "run-1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.ExecutedBy != "fetch-mirror" || ev.Attempts != 4 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	out, ok := ev.Output.(map[string]any)
	if !ok || out["ok"] != true {
		t.Fatalf("unexpected output: %#v", ev.Output)
	}
}
