package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("SPENDSORT_TEST_DIR", "/data")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, ".local/share/spendsort"), ExpandPath("~/.local/share/spendsort"))
	assert.Equal(t, "/data/spendsort.db", ExpandPath("$SPENDSORT_TEST_DIR/spendsort.db"))
	assert.Equal(t, "/tmp/plain.db", ExpandPath("/tmp/plain.db"))
}
