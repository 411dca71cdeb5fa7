package jsondb_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsondb/jsondb/pkg/fs"
	"github.com/jsondb/jsondb/pkg/jsondb"
)

// crashFilename mirrors testFilename's cwd-containment requirement: the
// path must resolve inside the process working directory regardless of
// which fs.FS backs the engine.
func crashFilename(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp(".", "jsondb-crash-")
	require.NoError(t, err)

	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	return filepath.Join(dir, "db.json")
}

func Test_OpenFS_DataSurvivesCrashAfterCleanClose(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	filename := crashFilename(t)
	opts := jsondb.DefaultOptions()
	opts.SaveDelay = 5 * time.Millisecond

	e, err := jsondb.OpenFS(filename, opts, crash)
	require.NoError(t, err)

	require.NoError(t, e.Set("user.name", "Ada").Wait())
	require.NoError(t, e.Close())

	require.NoError(t, crash.SimulateCrash())

	reopened, err := jsondb.OpenFS(filename, opts, crash)
	require.NoError(t, err)

	t.Cleanup(func() { _ = reopened.Close() })

	v, ok, err := reopened.Get("user.name")
	require.NoError(t, err)
	require.True(t, ok)

	s, _ := v.String()
	assert.Equal(t, "Ada", s)
}

// Test_OpenFS_WALReplaysSyncedWritesAfterCrash crashes the process after a
// mutation has been appended to the write-ahead log and fsynced, but
// before the next debounced snapshot has written the canonical file. The
// reopened engine must recover the mutation purely from WAL replay.
func Test_OpenFS_WALReplaysSyncedWritesAfterCrash(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	filename := crashFilename(t)
	opts := jsondb.DefaultOptions()
	opts.SaveDelay = time.Hour // never fires during this test
	opts.UseWAL = true

	e, err := jsondb.OpenFS(filename, opts, crash)
	require.NoError(t, err)

	// Append reaches the WAL (and is fsynced by Engine.applyOps) without
	// waiting for a debounced snapshot, which opts.SaveDelay holds off.
	fut := e.Set("order.id", "A-1")

	require.Eventually(t, func() bool {
		v, ok, getErr := e.Get("order.id")
		if getErr != nil || !ok {
			return false
		}

		s, _ := v.String()

		return s == "A-1"
	}, time.Second, time.Millisecond)

	require.NoError(t, crash.SimulateCrash())

	_ = fut // the debounced Future never resolves; the crash preempts it.

	reopened, err := jsondb.OpenFS(filename, opts, crash)
	require.NoError(t, err)

	t.Cleanup(func() { _ = reopened.Close() })

	v, ok, err := reopened.Get("order.id")
	require.NoError(t, err)
	require.True(t, ok)

	s, _ := v.String()
	assert.Equal(t, "A-1", s)
}

func Test_OpenFS_RejectsFilenameOutsideWorkingDirectory(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	_, err = jsondb.OpenFS(filepath.Join("..", "..", "escaped.json"), jsondb.DefaultOptions(), crash)
	require.ErrorIs(t, err, jsondb.ErrPathEscape)
}
