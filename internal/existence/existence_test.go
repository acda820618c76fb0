package existence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/types"
)

func TestValidateClaim(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg"), 0644))

	e := New(root)
	results := e.ValidateClaim([]string{
		"pkg/a.go",
		"pkg/missing.go",
		"../../etc/passwd",
		filepath.Join(e.Root(), "pkg", "a.go"),
		"/etc/hosts",
	})
	require.Len(t, results, 5)

	assert.Equal(t, MissingID, results[0].PatternID)
	assert.False(t, results[0].Matched)

	assert.Equal(t, MissingID, results[1].PatternID)
	assert.True(t, results[1].Matched)
	assert.Equal(t, types.SeverityCritical, results[1].Severity)
	assert.Contains(t, results[1].Location.Snippet, "pkg/missing.go")

	assert.Equal(t, TraversalID, results[2].PatternID)
	assert.True(t, results[2].Matched)

	assert.False(t, results[3].Matched)
	assert.Equal(t, TraversalID, results[4].PatternID)
}

func TestValidateClaimSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0644))
	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	results := New(root).ValidateClaim([]string{"link"})
	require.Len(t, results, 1)
	assert.Equal(t, TraversalID, results[0].PatternID)
}

func TestValidateClaimWithoutWorkspace(t *testing.T) {
	results := New("").ValidateClaim([]string{"a.go", "b.go"})
	require.Len(t, results, 1)
	assert.Equal(t, NoWorkspaceID, results[0].PatternID)
	assert.Equal(t, types.SeverityMedium, results[0].Severity)
	assert.True(t, results[0].Matched)
}

func TestWithin(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/ws", true},
		{"/ws/a/b", true},
		{"/ws/..hidden", true},
		{"/wsx/a", false},
		{"/a", false},
	}
	for _, tt := range tests {
		if got := within("/ws", tt.path); got != tt.want {
			t.Errorf("within(/ws, %s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
