// Package policy grades artifacts L1-L3 from path and content triggers.
package policy

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/qorelogic/sentinel/internal/types"
)

// RiskPolicy lists substring triggers per grade. Path triggers are matched
// case-insensitively, content triggers case-sensitively.
type RiskPolicy struct {
	PathTriggers    map[types.RiskGrade][]string `yaml:"path_triggers"`
	ContentTriggers map[types.RiskGrade][]string `yaml:"content_triggers"`
}

// DefaultRiskPolicy returns the built-in triggers
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		PathTriggers: map[types.RiskGrade][]string{
			types.RiskL1: {"readme", "changelog", "license", ".md", ".txt", "test", "spec"},
			types.RiskL2: {"component", "util", "helper", "service"},
			types.RiskL3: {"auth", "login", "password", "payment", "billing", "encrypt", "crypto",
				"migration", "admin", "secret", "credential", "token"},
		},
		ContentTriggers: map[types.RiskGrade][]string{
			types.RiskL2: {"function", "class", "interface"},
			types.RiskL3: {"CREATE TABLE", "DROP TABLE", "ALTER TABLE", "authenticate", "bcrypt",
				"private_key", "api_key", "BEGIN RSA PRIVATE KEY"},
		},
	}
}

// LoadRiskPolicy returns the default policy with any grades defined in path
// replacing the built-in lists. A missing or malformed file leaves the
// defaults in place.
func LoadRiskPolicy(path string, logger zerolog.Logger) RiskPolicy {
	p := DefaultRiskPolicy()
	if path == "" {
		return p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to read risk policy")
		}
		return p
	}

	var custom RiskPolicy
	if err := yaml.Unmarshal(data, &custom); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to parse risk policy")
		return p
	}
	for grade, triggers := range custom.PathTriggers {
		if grade.IsValid() {
			p.PathTriggers[grade] = triggers
		}
	}
	for grade, triggers := range custom.ContentTriggers {
		if grade.IsValid() {
			p.ContentTriggers[grade] = triggers
		}
	}
	return p
}

// Classifier applies a RiskPolicy
type Classifier struct {
	policy RiskPolicy
}

// NewClassifier returns a Classifier for p
func NewClassifier(p RiskPolicy) *Classifier {
	return &Classifier{policy: p}
}

// Classify grades an artifact. L3 triggers win, then L2, then L1;
// anything unmatched is L2.
func (c *Classifier) Classify(path string, content []byte) types.RiskGrade {
	lower := strings.ToLower(path)
	text := string(content)

	for _, grade := range []types.RiskGrade{types.RiskL3, types.RiskL2} {
		if containsAny(lower, c.policy.PathTriggers[grade], true) {
			return grade
		}
		if text != "" && containsAny(text, c.policy.ContentTriggers[grade], false) {
			return grade
		}
	}
	if containsAny(lower, c.policy.PathTriggers[types.RiskL1], true) {
		return types.RiskL1
	}
	return types.RiskL2
}

func containsAny(s string, triggers []string, fold bool) bool {
	for _, t := range triggers {
		if t == "" {
			continue
		}
		if fold {
			t = strings.ToLower(t)
		}
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
