// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRegistryCheckAll(t *testing.T) {
	r := NewHealthRegistry(0, 0)
	r.Register("registry", HealthCheckFunc(func(context.Context) HealthResult {
		return HealthResult{Status: HealthHealthy}
	}))
	r.Register("embedder", ErrorCheck(HealthDegraded, func(context.Context) error {
		return stderrors.New("model offline")
	}))

	results, overall := r.CheckAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, HealthDegraded, overall)
	assert.Equal(t, "embedder", results[0].Component, "results are in name order")
	assert.Equal(t, "model offline", results[0].Message)
	assert.False(t, results[1].LastCheck.IsZero())

	r.Register("mcp", ErrorCheck(HealthUnhealthy, func(context.Context) error { return stderrors.New("down") }))
	_, overall = r.CheckAll(context.Background())
	assert.Equal(t, HealthUnhealthy, overall)
}

func TestHealthRegistryTimeoutAndCache(t *testing.T) {
	calls := 0
	r := NewHealthRegistry(time.Minute, 10*time.Millisecond)
	r.Register("slow", ErrorCheck(HealthUnhealthy, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	}))

	res, err := r.Check(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, res.Status)
	assert.ErrorIs(t, res.Error, context.DeadlineExceeded)

	_, err = r.Check(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second check is served from cache")

	_, err = r.Check(context.Background(), "missing")
	assert.Error(t, err)
}
