package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.log")

	closer, err := Init(Config{Level: "debug", Output: path})
	require.NoError(t, err)

	l := WithComponent("ledger")
	l.Debug().Str("entry", "e1").Msg("appended")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"component":"ledger"`))
	assert.True(t, strings.Contains(string(data), `"entry":"e1"`))

	_, err = Init(DefaultConfig())
	require.NoError(t, err)
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := Init(Config{Level: "loud"})
	assert.Error(t, err)
}
