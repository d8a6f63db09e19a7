// Package intake implements the chunked, session-based transfer protocol
// that moves bulk bytes from a UI process to the privileged host process
// without a single-message serialization ceiling and with bounded peak RAM.
package intake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtokuhisa/minutesgen/pkg/segmentstore"
)

// ErrSessionUnknown is returned for any verb referencing an unknown session id.
var ErrSessionUnknown = errors.New("intake: unknown session")

// ErrChunkOutOfRange is returned when a chunk index falls outside [0, expected).
var ErrChunkOutOfRange = errors.New("intake: chunk index out of range")

// Session tracks one logical upload's bookkeeping on top of a segmentstore
// session handle.
type Session struct {
	ID             string
	FileName       string
	ExpectedSize   int64
	ExpectedChunks int
	StartedAt      time.Time

	handle *segmentstore.SessionHandle
}

// Registry is the single process-wide mutable map of session id to session,
// guarded by a mutex — the only such shared state in the intake layer.
type Registry struct {
	store *segmentstore.Store

	chunkBytes int64

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns a Registry backed by store. chunkBytes sets how many
// chunks a session expects (declared size divided by chunkBytes, rounded
// up, at least one), which bounds the valid indices and what Finalize
// requires. The length of an individual chunk is not checked, only the
// running total against the declared size and duplicate indices; the order
// in which indices arrive is not checked either.
func NewRegistry(store *segmentstore.Store, chunkBytes int64) *Registry {
	return &Registry{store: store, chunkBytes: chunkBytes, sessions: make(map[string]*Session)}
}

// ChunkBytes returns the configured target chunk size for UI-side chunking.
func (r *Registry) ChunkBytes() int64 { return r.chunkBytes }

// Start begins a new upload session and returns its id.
func (r *Registry) Start(fileName string, fileSize int64) (string, error) {
	id := uuid.New().String()
	handle, err := r.store.OpenSession(id, fileName, fileSize)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	expectedChunks := int((fileSize + r.chunkBytes - 1) / r.chunkBytes)
	if expectedChunks == 0 {
		expectedChunks = 1
	}
	s := &Session{
		ID:             id,
		FileName:       fileName,
		ExpectedSize:   fileSize,
		ExpectedChunks: expectedChunks,
		StartedAt:      time.Now(),
		handle:         handle,
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id, nil
}

// UploadChunk validates the session and index, then persists the chunk via
// the segment store.
func (r *Registry) UploadChunk(sessionID string, index int, data []byte) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrSessionUnknown
	}
	if index < 0 || index >= s.ExpectedChunks {
		return ErrChunkOutOfRange
	}
	return s.handle.WriteChunk(index, data)
}

// Finalize instructs the segment store to concatenate all chunks and
// returns the assembled path. On success the session is removed from the
// registry and its handle is adopted, so the assembled file stays on disk;
// no Store method removes it afterwards except ReapOrphans, once the
// session directory is older than the reap age.
func (r *Registry) Finalize(sessionID string) (string, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return "", ErrSessionUnknown
	}
	path, err := s.handle.Finalize(s.ExpectedChunks)
	if err != nil {
		if errors.Is(err, segmentstore.ErrIncompleteUpload) {
			_ = r.Cleanup(sessionID)
		}
		return "", err
	}
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	s.handle.Adopt()
	return path, nil
}

// Cleanup releases a session's resources regardless of its state. Idempotent.
func (r *Registry) Cleanup(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.handle.Close()
}

func (r *Registry) get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// SaveToTemp performs a single-shot transfer for small inputs, internally
// becoming a one-chunk session. Intended for inputs at or below the
// configured direct-upload ceiling.
func (r *Registry) SaveToTemp(fileName string, data []byte) (string, error) {
	id, err := r.Start(fileName, int64(len(data)))
	if err != nil {
		return "", err
	}
	if s, ok := r.get(id); ok {
		s.ExpectedChunks = 1
	}
	if err := r.UploadChunk(id, 0, data); err != nil {
		_ = r.Cleanup(id)
		return "", err
	}
	path, err := r.Finalize(id)
	if err != nil {
		return "", err
	}
	return path, nil
}
