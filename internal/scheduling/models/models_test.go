package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execmodels "github.com/kandev/kanrun/internal/executor/models"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "fired", "cancelled"} {
		got, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), got)
	}
	for _, s := range []string{"", "PENDING", "fire_failed", "done"} {
		_, err := ParseStatus(s)
		assert.ErrorIs(t, err, ErrInvalidStatus, s)
	}
	assert.True(t, StatusFired.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}

func TestStatusScan(t *testing.T) {
	var s Status
	require.NoError(t, s.Scan("fired"))
	assert.Equal(t, StatusFired, s)
	require.NoError(t, s.Scan([]byte("cancelled")))
	assert.Equal(t, StatusCancelled, s)
	assert.ErrorIs(t, s.Scan("paused"), ErrInvalidStatus)
	assert.ErrorIs(t, s.Scan(42), ErrInvalidStatus)
}

func TestScheduledExecutionJSONRoundTrip(t *testing.T) {
	fired := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := "executor unavailable"
	in := ScheduledExecution{
		ID:          "s1",
		TaskID:      "t1",
		ProjectID:   "p1",
		ScheduledAt: time.Date(2026, 5, 1, 9, 59, 0, 0, time.UTC),
		Status:      StatusFired,
		ExecutorProfileID: execmodels.ExecutorProfileID{
			Executor: execmodels.AgentCodex,
			Variant:  execmodels.StringPtr("HIGH"),
		},
		Repos: []RepoInput{
			{RepoID: "r1", TargetBranch: "main"},
			{RepoID: "r2", TargetBranch: "release/1.2"},
		},
		CreatedAt:    time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    fired,
		FiredAt:      &fired,
		ErrorMessage: &msg,
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out ScheduledExecution
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestScheduledExecutionRejectsUnknownStatus(t *testing.T) {
	var out ScheduledExecution
	err := json.Unmarshal([]byte(`{"id":"s1","status":"fire_failed"}`), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	e := ScheduledExecution{Status: StatusPending, ScheduledAt: now}
	assert.True(t, e.IsDue(now))
	e.ScheduledAt = now.Add(time.Second)
	assert.False(t, e.IsDue(now))
	e.ScheduledAt = now.Add(-time.Second)
	e.Status = StatusCancelled
	assert.False(t, e.IsDue(now))
}
