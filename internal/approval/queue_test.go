package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

func setupQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q, err := New(Config{DB: db, Logger: logging.NewTestLogger(), Now: func() time.Time { return now }})
	require.NoError(t, err)
	return q, &now
}

func request(path string, deadline time.Time) Request {
	return Request{
		VerdictID:   "verdict-" + path,
		Path:        path,
		RiskGrade:   types.RiskL3,
		AgentID:     "did:myth:scrivener:0011223344556677",
		AgentTrust:  0.42,
		Summary:     "L3 file requires human approval",
		Flags:       []string{"SEC001"},
		SLADeadline: deadline,
	}
}

func TestEnqueueAndGet(t *testing.T) {
	q, now := setupQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, request("src/auth.go", now.Add(2*time.Minute)))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, item.State)
	assert.Equal(t, "src/auth.go", item.Path)
	assert.Equal(t, types.RiskL3, item.RiskGrade)
	assert.Equal(t, []string{"SEC001"}, item.Flags)
	assert.InDelta(t, 0.42, item.AgentTrust, 1e-9)
	assert.True(t, item.QueuedAt.Equal(*now))
	assert.True(t, item.SLADeadline.Equal(now.Add(2*time.Minute)))
	assert.Nil(t, item.DecidedAt)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnqueueRejectsInvalid(t *testing.T) {
	q, now := setupQueue(t)
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no verdict", func(r *Request) { r.VerdictID = "" }},
		{"no path", func(r *Request) { r.Path = "" }},
		{"bad grade", func(r *Request) { r.RiskGrade = "L4" }},
		{"no agent", func(r *Request) { r.AgentID = "" }},
		{"no deadline", func(r *Request) { r.SLADeadline = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("a.go", now.Add(time.Minute))
			tt.mutate(&req)
			_, err := q.Enqueue(context.Background(), req)
			assert.Error(t, err)
		})
	}
}

func TestPendingOrderAndDecide(t *testing.T) {
	q, now := setupQueue(t)
	ctx := context.Background()

	late, err := q.Enqueue(ctx, request("late.go", now.Add(10*time.Minute)))
	require.NoError(t, err)
	soon, err := q.Enqueue(ctx, request("soon.go", now.Add(time.Minute)))
	require.NoError(t, err)

	pending, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, soon, pending[0].ID)
	assert.Equal(t, late, pending[1].ID)

	require.NoError(t, q.Decide(ctx, soon, true, "alice", "reviewed"))
	item, err := q.Get(ctx, soon)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, item.State)
	assert.Equal(t, "alice", item.DecidedBy)
	assert.Equal(t, "reviewed", item.Notes)
	require.NotNil(t, item.DecidedAt)

	err = q.Decide(ctx, soon, false, "bob", "")
	assert.ErrorIs(t, err, ErrNotPending)
	err = q.Decide(ctx, "missing", false, "bob", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Error(t, q.Decide(ctx, late, false, "", ""))

	require.NoError(t, q.Decide(ctx, late, false, "bob", "too risky"))
	pending, err = q.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[State]int{StateApproved: 1, StateRejected: 1}, counts)
}

func TestExpireOverdue(t *testing.T) {
	q, now := setupQueue(t)
	ctx := context.Background()

	overdue, err := q.Enqueue(ctx, request("a.go", now.Add(time.Minute)))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, request("b.go", now.Add(time.Hour)))
	require.NoError(t, err)

	*now = now.Add(5 * time.Minute)
	n, err := q.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := q.Get(ctx, overdue)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, item.State)
	assert.ErrorIs(t, q.Decide(ctx, overdue, true, "alice", ""), ErrNotPending)

	all, err := q.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestItemOverdue(t *testing.T) {
	now := time.Now()
	item := Item{State: StatePending, Request: Request{SLADeadline: now.Add(-time.Second)}}
	assert.True(t, item.Overdue(now))
	item.State = StateApproved
	assert.False(t, item.Overdue(now))
	assert.False(t, State("bogus").IsValid())
}
