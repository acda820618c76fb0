package trust

import (
	"time"

	"github.com/qorelogic/sentinel/internal/types"
)

// Scoring constants
const (
	DefaultScore     = 0.35
	SuccessDelta     = 0.05
	FailureDelta     = -0.10
	ViolationPenalty = -0.25
	ProbationFloor   = 0.35
	ProbationPeriod  = 30 * 24 * time.Hour

	kbtMin = 0.5
	ibtMin = 0.8
)

// StageForScore maps a score to its stage: CBT [0,0.5), KBT [0.5,0.8), IBT [0.8,1]
func StageForScore(score float64) types.TrustStage {
	switch {
	case score >= ibtMin:
		return types.StageIBT
	case score >= kbtMin:
		return types.StageKBT
	default:
		return types.StageCBT
	}
}

// IsProbationary reports whether the agent is younger than the probation period
func IsProbationary(agent *types.AgentIdentity, now time.Time) bool {
	return now.Sub(agent.CreatedAt) < ProbationPeriod
}

// InfluenceWeight scales an agent's say in consensus: 0.5 + 1.5*score,
// capped at 1.2 during probation and pinned to 0.1 while quarantined.
func InfluenceWeight(agent *types.AgentIdentity, now time.Time) float64 {
	weight := 0.5 + agent.Score*1.5
	if IsProbationary(agent, now) && weight > 1.2 {
		weight = 1.2
	}
	if agent.Quarantined {
		weight = 0.1
	}
	return clamp(weight, 0.1, 2.0)
}

// nextScore applies one outcome to a score. A violation first caps the
// score just below the current stage's lower bound, so at least one stage
// is always lost.
func nextScore(agent *types.AgentIdentity, outcome types.TrustOutcome, now time.Time) float64 {
	score := agent.Score
	var delta float64
	switch outcome {
	case types.OutcomeSuccess:
		delta = SuccessDelta
	case types.OutcomeFailure:
		delta = FailureDelta
	case types.OutcomeViolation:
		delta = ViolationPenalty
		switch StageForScore(score) {
		case types.StageIBT:
			score = min(score, ibtMin-0.01)
		case types.StageKBT:
			score = min(score, kbtMin-0.01)
		}
	}

	score = clamp(score+delta, 0, 1)
	if IsProbationary(agent, now) && score < ProbationFloor {
		score = ProbationFloor
	}
	return round(score)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round trims float noise from repeated deltas (0.35+0.05 != 0.4 exactly)
func round(v float64) float64 {
	const scale = 1e6
	return float64(int64(v*scale+0.5)) / scale
}
