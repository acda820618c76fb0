package genome

import (
	"strings"

	"github.com/qorelogic/sentinel/internal/types"
)

// patternRule maps pattern identifiers to a failure mode. Rules are tried in
// order for each matched pattern; the first matched pattern that hits any
// rule decides.
type patternRule struct {
	mode     types.FailureMode
	prefixes []string
	keywords []string
}

var patternRules = []patternRule{
	{types.FailureInjection, []string{"inj"}, []string{"injection", "xss", "sql"}},
	{types.FailureSecretExposure, []string{"sec"}, []string{"secret", "api_key", "api-key", "credential"}},
	{types.FailurePIILeak, nil, []string{"pii", "personal"}},
	{types.FailureComplexity, []string{"cmp"}, []string{"complex", "cyclomatic"}},
	{types.FailureLogicError, nil, []string{"logic", "spec"}},
	{types.FailureDependency, []string{"dep"}, []string{"dependency", "import"}},
}

// ClassifyFailureMode derives a failure mode from matched pattern IDs, then
// the decision, then the model's response text. Pure and deterministic.
func ClassifyFailureMode(matched []string, decision types.Decision, model *types.ModelEvaluation) types.FailureMode {
	for _, id := range matched {
		if mode, ok := modeForPattern(id); ok {
			return mode
		}
	}

	if decision == types.DecisionQuarantine {
		return types.FailureTrustViolation
	}

	if model != nil && model.Response != "" {
		response := strings.ToLower(model.Response)
		if strings.Contains(response, "hallucin") {
			return types.FailureHallucination
		}
		if strings.Contains(response, "spec") || strings.Contains(response, "requirement") {
			return types.FailureSpecViolation
		}
	}

	return types.FailureOther
}

func modeForPattern(id string) (types.FailureMode, bool) {
	p := strings.ToLower(id)
	for _, rule := range patternRules {
		for _, prefix := range rule.prefixes {
			if strings.HasPrefix(p, prefix) {
				return rule.mode, true
			}
		}
		for _, kw := range rule.keywords {
			if strings.Contains(p, kw) {
				return rule.mode, true
			}
		}
	}
	return "", false
}

var constraintTemplates = map[types.FailureMode][2]string{
	types.FailureInjection:      {"Unsanitized user input in SQL/command execution", "Input validation and parameterized queries"},
	types.FailureSecretExposure: {"Hardcoded secrets, API keys, or credentials", "Environment variables or secure vault access"},
	types.FailurePIILeak:        {"Logging or exposing personally identifiable information", "PII masking and access controls"},
	types.FailureComplexity:     {"Functions exceeding complexity thresholds", "Code decomposition and single responsibility"},
	types.FailureHallucination:  {"Generated code without grounding in codebase context", "Citation of existing patterns or explicit novelty declaration"},
	types.FailureLogicError:     {"Unverified logical assumptions", "Test coverage for edge cases"},
	types.FailureSpecViolation:  {"Deviation from documented specifications", "Compliance verification against documented requirements before commit"},
	types.FailureDependency:     {"Unvetted external dependencies", "Dependency audit and version pinning"},
	types.FailureTrustViolation: {"Repeated failures within probationary period", "Human review for sensitive operations"},
}

// NegativeConstraint renders the AVOID/REQUIRE guidance for a failure mode.
// Modes without a template fall back to avoiding the verdict summary.
func NegativeConstraint(mode types.FailureMode, summary string) string {
	if t, ok := constraintTemplates[mode]; ok {
		return "AVOID: " + t[0] + "\nREQUIRE: " + t[1]
	}
	return "AVOID: " + summary
}
