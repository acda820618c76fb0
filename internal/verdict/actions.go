package verdict

import (
	"context"
	"fmt"

	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/types"
)

// executeActions runs the side effects of v in a fixed order. Each action
// is isolated: a failure or panic is recorded and the rest still run.
func (e *Engine) executeActions(ctx context.Context, v *types.Verdict) []types.VerdictAction {
	actions := []types.VerdictAction{
		e.run(types.ActionLog, func() (string, error) { return e.logToLedger(ctx, v) }),
	}

	if !e.isSystemAgent(v.AgentID) {
		actions = append(actions, e.run(types.ActionTrustUpdate, func() (string, error) {
			return e.updateTrust(ctx, v)
		}))
	}

	if v.Decision != types.DecisionPass {
		actions = append(actions, e.run(types.ActionShadowArchive, func() (string, error) {
			return e.archive(ctx, v)
		}))
	}

	if v.Decision == types.DecisionEscalate {
		actions = append(actions, types.VerdictAction{
			Type:    types.ActionEscalationQueue,
			Status:  types.ActionPending,
			Details: "Queued for L3 approval",
		})
	}

	if v.Decision == types.DecisionQuarantine {
		actions = append(actions, e.run(types.ActionQuarantine, func() (string, error) {
			return e.quarantine(ctx, v)
		}))
	}
	return actions
}

func (e *Engine) run(t types.ActionType, fn func() (string, error)) (action types.VerdictAction) {
	action.Type = t
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("action", string(t)).Interface("panic", r).Msg("verdict action panicked")
			action.Status = types.ActionFailed
			action.Details = fmt.Sprintf("panic: %v", r)
		}
	}()

	details, err := fn()
	if err != nil {
		e.logger.Warn().Err(err).Str("action", string(t)).Msg("verdict action failed")
		action.Status = types.ActionFailed
		action.Details = err.Error()
		return action
	}
	action.Status = types.ActionCompleted
	action.Details = details
	return action
}

type auditPayload struct {
	MatchedPatterns []string `json:"matchedPatterns"`
	Summary         string   `json:"summary"`
}

func (e *Engine) logToLedger(ctx context.Context, v *types.Verdict) (string, error) {
	if e.ledger == nil {
		return "", fmt.Errorf("failed to log: no ledger configured")
	}
	eventType := types.LedgerAuditFail
	if v.Decision == types.DecisionPass {
		eventType = types.LedgerAuditPass
	}
	grade := v.RiskGrade
	agentTrust := v.AgentTrustAtVerdict
	confidence := v.Confidence

	entry, err := e.ledger.AppendEntry(ctx, ledger.AppendRequest{
		EventType:          eventType,
		AgentID:            v.AgentID,
		AgentTrustAtAction: &agentTrust,
		ArtifactPath:       v.ArtifactPath,
		RiskGrade:          &grade,
		VerificationMethod: verificationMethod,
		VerificationResult: string(v.Decision),
		SentinelConfidence: &confidence,
		Payload:            auditPayload{MatchedPatterns: v.MatchedPatterns, Summary: v.Summary},
	})
	if err != nil {
		return "", fmt.Errorf("failed to log: %w", err)
	}
	id := entry.ID
	v.LedgerEntryID = &id
	return fmt.Sprintf("Logged to ledger entry #%d", id), nil
}

func (e *Engine) updateTrust(ctx context.Context, v *types.Verdict) (string, error) {
	if e.trust == nil {
		return "", fmt.Errorf("failed to update trust: no trust engine configured")
	}
	outcome := types.OutcomeFailure
	switch v.Decision {
	case types.DecisionPass:
		outcome = types.OutcomeSuccess
	case types.DecisionQuarantine:
		outcome = types.OutcomeViolation
	}
	update, err := e.trust.UpdateTrust(ctx, v.AgentID, outcome)
	if err != nil {
		return "", fmt.Errorf("failed to update trust: %w", err)
	}
	return fmt.Sprintf("Trust updated for %s: %.2f -> %.2f (%s)",
		v.AgentID, update.PreviousScore, update.NewScore, update.NewStage), nil
}

func (e *Engine) archive(ctx context.Context, v *types.Verdict) (string, error) {
	if e.genome == nil {
		return "", fmt.Errorf("failed to archive: no shadow genome configured")
	}
	entry, err := e.genome.Archive(ctx, v)
	if err != nil {
		return "", fmt.Errorf("failed to archive: %w", err)
	}
	return fmt.Sprintf("Archived to Shadow Genome entry #%d (%s)", entry.ID, entry.FailureMode), nil
}

func (e *Engine) quarantine(ctx context.Context, v *types.Verdict) (string, error) {
	if e.trust == nil {
		return "", fmt.Errorf("failed to quarantine: no trust engine configured")
	}
	if err := e.trust.QuarantineAgent(ctx, v.AgentID, v.Summary, e.quarantineDuration); err != nil {
		return "", fmt.Errorf("failed to quarantine: %w", err)
	}
	return fmt.Sprintf("Agent quarantined for %s", e.quarantineDuration), nil
}
