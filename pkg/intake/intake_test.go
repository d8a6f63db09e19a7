package intake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtokuhisa/minutesgen/pkg/segmentstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	root := t.TempDir()
	store := segmentstore.New(root, "minutesgen-test")
	return NewRegistry(store, 4) // tiny chunk size to exercise multi-chunk paths
}

func TestStartUploadFinalize_RoundTrips(t *testing.T) {
	r := newTestRegistry(t)
	data := []byte("hello world!") // 12 bytes, chunkBytes=4 -> 3 chunks

	id, err := r.Start("clip.wav", int64(len(data)))
	require.NoError(t, err)

	chunkSize := 4
	for i := 0; i*chunkSize < len(data); i++ {
		end := (i + 1) * chunkSize
		if end > len(data) {
			end = len(data)
		}
		require.NoError(t, r.UploadChunk(id, i, data[i*chunkSize:end]))
	}

	path, err := r.Finalize(id)
	require.NoError(t, err)
	defer os.RemoveAll(filepath.Dir(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestUploadChunk_UnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	err := r.UploadChunk("nope", 0, []byte("x"))
	require.ErrorIs(t, err, ErrSessionUnknown)
}

func TestUploadChunk_OutOfRangeIndex(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.Start("a.wav", 4)
	require.NoError(t, err)
	err = r.UploadChunk(id, 5, []byte("x"))
	require.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestFinalize_IncompleteRemovesSession(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.Start("a.wav", 8)
	require.NoError(t, err)
	require.NoError(t, r.UploadChunk(id, 0, []byte("abcd")))
	// chunk 1 never uploaded
	_, err = r.Finalize(id)
	require.Error(t, err)

	// Session should have been cleaned up; a second Finalize reports unknown.
	_, err = r.Finalize(id)
	require.ErrorIs(t, err, ErrSessionUnknown)
}

func TestCleanup_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.Start("a.wav", 4)
	require.NoError(t, err)
	require.NoError(t, r.Cleanup(id))
	require.NoError(t, r.Cleanup(id)) // second call is a no-op, not an error
}

func TestSaveToTemp_SingleShot(t *testing.T) {
	r := newTestRegistry(t)
	data := []byte("small payload")
	path, err := r.SaveToTemp("notes.txt", data)
	require.NoError(t, err)
	defer os.RemoveAll(filepath.Dir(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}
