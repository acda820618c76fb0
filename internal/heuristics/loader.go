package heuristics

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"regexp/syntax"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/qorelogic/sentinel/internal/types"
)

// MaxPatternLength bounds user-supplied regex source
const MaxPatternLength = 500

// ErrNestedQuantifier flags shapes like (a+)+ that backtracking engines
// blow up on. RE2 would cope, but pattern files are shared with other tools.
var ErrNestedQuantifier = errors.New("nested quantifier")

// patternFile is the on-disk layout of .sentinel/patterns.yaml
type patternFile struct {
	Patterns []filePattern `yaml:"patterns"`
}

// filePattern mirrors HeuristicPattern with an optional enabled flag so
// that omitting it means enabled
type filePattern struct {
	ID                string                `yaml:"id"`
	Name              string                `yaml:"name"`
	Category          types.PatternCategory `yaml:"category"`
	Severity          types.Severity        `yaml:"severity"`
	Pattern           string                `yaml:"pattern"`
	Description       string                `yaml:"description"`
	Remediation       string                `yaml:"remediation"`
	CWE               string                `yaml:"cwe"`
	FalsePositiveRate float64               `yaml:"false_positive_rate"`
	Enabled           *bool                 `yaml:"enabled"`
}

func (f filePattern) toPattern() types.HeuristicPattern {
	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	return types.HeuristicPattern{
		ID:                f.ID,
		Name:              f.Name,
		Category:          f.Category,
		Severity:          f.Severity,
		Pattern:           f.Pattern,
		Description:       f.Description,
		Remediation:       f.Remediation,
		CWE:               f.CWE,
		FalsePositiveRate: f.FalsePositiveRate,
		Enabled:           enabled,
	}
}

// LoadPatterns returns the built-in patterns merged with those in path.
// File patterns replace built-ins with the same ID and are appended
// otherwise. A missing file is not an error; a malformed file or pattern is
// logged and skipped.
func LoadPatterns(path string, logger zerolog.Logger) []types.HeuristicPattern {
	patterns := DefaultPatterns()
	if path == "" {
		return patterns
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to read custom patterns")
		}
		return patterns
	}

	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to parse custom patterns")
		return patterns
	}

	index := make(map[string]int, len(patterns))
	for i, p := range patterns {
		index[p.ID] = i
	}
	for _, fp := range file.Patterns {
		p := fp.toPattern()
		if err := CheckPattern(p); err != nil {
			logger.Warn().Err(err).Str("path", path).Str("pattern", p.ID).Msg("skipping invalid custom pattern")
			continue
		}
		if i, ok := index[p.ID]; ok {
			patterns[i] = p
			continue
		}
		index[p.ID] = len(patterns)
		patterns = append(patterns, p)
	}

	logger.Debug().Int("custom", len(file.Patterns)).Int("total", len(patterns)).Msg("patterns loaded")
	return patterns
}

// CheckPattern validates a pattern's fields and that its regex compiles
// without a nested quantifier
func CheckPattern(p types.HeuristicPattern) error {
	_, err := compile(p)
	return err
}

func compile(p types.HeuristicPattern) (*regexp.Regexp, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(p.Pattern) > MaxPatternLength {
		return nil, fmt.Errorf("pattern %s: longer than %d characters", p.ID, MaxPatternLength)
	}
	src := "(?im)" + p.Pattern
	tree, err := syntax.Parse(src, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
	}
	if hasNestedQuantifier(tree, false) {
		return nil, fmt.Errorf("pattern %s: %w", p.ID, ErrNestedQuantifier)
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
	}
	return re, nil
}

func hasNestedQuantifier(re *syntax.Regexp, inside bool) bool {
	quantified := isUnbounded(re)
	if quantified && inside {
		return true
	}
	for _, sub := range re.Sub {
		if hasNestedQuantifier(sub, inside || quantified) {
			return true
		}
	}
	return false
}

func isUnbounded(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		return true
	case syntax.OpRepeat:
		return re.Max == -1 || re.Max > 1
	}
	return false
}
