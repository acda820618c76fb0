package verdict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/approval"
	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/types"
)

type fakeQueue struct {
	err  error
	reqs []approval.Request
}

func (f *fakeQueue) Enqueue(_ context.Context, req approval.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "req-1", nil
}

func newRouter(t *testing.T, q ApprovalQueue) (*Router, *events.Bus, time.Time) {
	t.Helper()
	bus := events.NewBus(events.Config{Logger: logging.NewTestLogger()})
	t.Cleanup(bus.Close)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r, err := NewRouter(RouterConfig{
		Events:    bus,
		Approvals: q,
		SLA:       time.Minute,
		Logger:    logging.NewTestLogger(),
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return r, bus, now
}

func escalated() *types.Verdict {
	return &types.Verdict{
		ID:                  "v-1",
		EventID:             "evt-1",
		Decision:            types.DecisionEscalate,
		RiskGrade:           types.RiskL3,
		Confidence:          0.8,
		AgentID:             agentID,
		AgentTrustAtVerdict: 0.4,
		ArtifactPath:        "src/auth.go",
		Summary:             "L3 file requires human approval",
		MatchedPatterns:     []string{"SEC002"},
	}
}

func TestRouteEscalation(t *testing.T) {
	q := &fakeQueue{}
	r, bus, now := newRouter(t, q)

	r.Route(context.Background(), escalated())

	require.Len(t, q.reqs, 1)
	req := q.reqs[0]
	assert.Equal(t, "v-1", req.VerdictID)
	assert.Equal(t, "src/auth.go", req.Path)
	assert.Equal(t, types.RiskL3, req.RiskGrade)
	assert.Equal(t, []string{"SEC002"}, req.Flags)
	assert.InDelta(t, 0.4, req.AgentTrust, 1e-9)
	assert.Equal(t, now.Add(time.Minute), req.SLADeadline)

	assert.Len(t, bus.History(events.TopicVerdictProduced, 10), 1)
	assert.Len(t, bus.History(events.TopicSentinelConfidence, 10), 1)
	queued := bus.History(events.TopicEscalationQueued, 10)
	require.Len(t, queued, 1)
	data := queued[0].Payload.(events.EscalationQueuedData)
	assert.Equal(t, "req-1", data.RequestID)
	assert.Empty(t, bus.History(events.TopicEscalationFailed, 10))
}

func TestRouteEscalationFailure(t *testing.T) {
	r, bus, _ := newRouter(t, &fakeQueue{err: errors.New("queue closed")})
	r.Route(context.Background(), escalated())

	failed := bus.History(events.TopicEscalationFailed, 10)
	require.Len(t, failed, 1)
	assert.Equal(t, "queue closed", failed[0].Payload.(events.EscalationFailedData).Error)
	assert.Empty(t, bus.History(events.TopicEscalationQueued, 10))

	r, bus, _ = newRouter(t, nil)
	r.Route(context.Background(), escalated())
	assert.Len(t, bus.History(events.TopicEscalationFailed, 10), 1)
}

func TestRouteNonEscalation(t *testing.T) {
	q := &fakeQueue{}
	r, bus, _ := newRouter(t, q)

	v := escalated()
	v.Decision = types.DecisionWarn
	r.Route(context.Background(), v)

	assert.Empty(t, q.reqs)
	produced := bus.History(events.TopicVerdictProduced, 10)
	require.Len(t, produced, 1)
	assert.Same(t, v, produced[0].Payload.(*types.Verdict))

	conf := bus.History(events.TopicSentinelConfidence, 10)
	require.Len(t, conf, 1)
	assert.Equal(t, events.ConfidenceData{EventID: "evt-1", Decision: types.DecisionWarn, Confidence: 0.8}, conf[0].Payload)
}

func TestNewRouterRequiresEmitter(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	assert.Error(t, err)
}
