package verdict

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/approval"
	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/types"
)

// DefaultApprovalSLA is how long a human has to decide an escalation
const DefaultApprovalSLA = 120 * time.Second

// ApprovalQueue accepts escalated artifacts for human review
type ApprovalQueue interface {
	Enqueue(ctx context.Context, req approval.Request) (string, error)
}

// RouterConfig configures a Router. Approvals is optional; without it
// escalations are reported as failed.
type RouterConfig struct {
	Events    events.Emitter
	Approvals ApprovalQueue
	SLA       time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Router publishes verdicts and forwards escalations
type Router struct {
	events    events.Emitter
	approvals ApprovalQueue
	sla       time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRouter creates a Router
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Events == nil {
		return nil, fmt.Errorf("event emitter is required")
	}
	if cfg.SLA <= 0 {
		cfg.SLA = DefaultApprovalSLA
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		events:    cfg.Events,
		approvals: cfg.Approvals,
		sla:       cfg.SLA,
		logger:    cfg.Logger.With().Str("component", "router").Logger(),
		now:       cfg.Now,
	}, nil
}

// Route publishes v and, for ESCALATE verdicts, queues an approval request
func (r *Router) Route(ctx context.Context, v *types.Verdict) {
	r.events.Emit(events.TopicVerdictProduced, v)
	r.events.Emit(events.TopicSentinelConfidence, events.ConfidenceData{
		EventID:    v.EventID,
		Decision:   v.Decision,
		Confidence: v.Confidence,
	})

	if v.Decision != types.DecisionEscalate {
		return
	}

	req := approval.Request{
		VerdictID:   v.ID,
		Path:        v.ArtifactPath,
		RiskGrade:   v.RiskGrade,
		AgentID:     v.AgentID,
		AgentTrust:  v.AgentTrustAtVerdict,
		Summary:     v.Summary,
		Flags:       v.MatchedPatterns,
		SLADeadline: r.now().Add(r.sla),
	}
	if err := r.escalate(ctx, v, req); err != nil {
		r.logger.Error().Err(err).Str("verdict_id", v.ID).Str("path", v.ArtifactPath).Msg("failed to queue escalation")
		r.events.Emit(events.TopicEscalationFailed, events.EscalationFailedData{
			VerdictID: v.ID,
			Path:      v.ArtifactPath,
			Error:     err.Error(),
		})
	}
}

func (r *Router) escalate(ctx context.Context, v *types.Verdict, req approval.Request) error {
	if r.approvals == nil {
		return fmt.Errorf("no approval queue configured")
	}
	id, err := r.approvals.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	r.events.Emit(events.TopicEscalationQueued, events.EscalationQueuedData{
		VerdictID:   v.ID,
		RequestID:   id,
		Path:        req.Path,
		RiskGrade:   req.RiskGrade,
		AgentID:     req.AgentID,
		SLADeadline: req.SLADeadline,
	})
	return nil
}
