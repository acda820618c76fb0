package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qorelogic/sentinel/internal/types"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"a longer line", 6, "a lon…"},
		{"héllo wörld", 5, "héll…"},
		{"ab", 1, "a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n), "truncate(%q, %d)", tt.in, tt.n)
	}
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abc", shortHash("abc"))
	assert.Equal(t, "0123456789ab", shortHash("0123456789abcdef0123"))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{47 * time.Hour, "47h ago"},
		{72 * time.Hour, "3d ago"},
	}
	for _, tt := range tests {
		if got := formatAge(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("formatAge(-%s) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestVerdictExitCode(t *testing.T) {
	assert.Equal(t, 0, verdictExitCode(types.DecisionPass))
	assert.Equal(t, 0, verdictExitCode(types.DecisionWarn))
	assert.Equal(t, 2, verdictExitCode(types.DecisionEscalate))
	assert.Equal(t, 3, verdictExitCode(types.DecisionBlock))
}
