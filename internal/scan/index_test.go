package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLookupMatchesSizeAndMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	idx, err := OpenIndex(path)
	require.NoError(t, err)

	rec := &FileRecord{Path: "/data/a.dcm", Size: 10, SOPInstanceUID: "1.2"}
	require.NoError(t, idx.Add(rec, 100))

	got, ok := idx.Lookup("/data/a.dcm", 10, 100)
	require.True(t, ok)
	assert.Equal(t, "1.2", got.SOPInstanceUID)

	_, ok = idx.Lookup("/data/a.dcm", 11, 100)
	assert.False(t, ok)
	_, ok = idx.Lookup("/data/a.dcm", 10, 101)
	assert.False(t, ok)
}

func TestIndexLaterLinesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	idx, err := OpenIndex(path)
	require.NoError(t, err)

	require.NoError(t, idx.Add(&FileRecord{Path: "/a", Size: 1, SOPInstanceUID: "old"}, 1))
	require.NoError(t, idx.Add(&FileRecord{Path: "/a", Size: 2, SOPInstanceUID: "new"}, 2))

	reopened, err := OpenIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	got, ok := reopened.Lookup("/a", 2, 2)
	require.True(t, ok)
	assert.Equal(t, "new", got.SOPInstanceUID)
}

func TestIndexSkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	idx, err := OpenIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(&FileRecord{Path: "/a", SOPInstanceUID: "1"}, 1))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"size":3,"mtime":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
}

func TestIndexCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	idx, err := OpenIndex(path)
	require.NoError(t, err)
	for _, p := range []string{"/a", "/b", "/a"} {
		require.NoError(t, idx.Add(&FileRecord{Path: p}, 1))
	}

	require.NoError(t, idx.Compact(map[string]bool{"/a": true}))
	assert.Equal(t, 1, idx.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(data))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
