package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupConsoleOnly(t *testing.T) {
	logger, err := Setup(false, "")
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(-1))
	logger, err = Setup(true, "")
	require.NoError(t, err)
	assert.True(t, logger.Desugar().Core().Enabled(-1))
}

func TestSetupLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rtlink.log")
	logger, err := Setup(false, path)
	require.NoError(t, err)
	logger.Debugw("walking", "dir", "/data")
	logger.Infof("scanned %d files", 3)
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"dir":"/data"`)
	assert.Contains(t, lines[1], "scanned 3 files")
}
