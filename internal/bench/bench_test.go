package bench

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_AtomicRenameProducesValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.json")

	info := Info{Iters: []Iter{{Stage: "dispatch", Duration: 5 * time.Millisecond}}}
	require.NoError(t, WriteFile(path, info))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Info
	require.NoError(t, json.Unmarshal(content, &got))
	require.Len(t, got.Iters, 1)
	assert.Equal(t, "dispatch", got.Iters[0].Stage)
}

func TestRecorder_FlushWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	r := NewRecorder()
	r.Record("completion", time.Millisecond)

	_, err := r.Flush(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
