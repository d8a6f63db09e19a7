package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
)

func writeSegmentFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("fake wav bytes"), 0o600))
	return p
}

func TestTranscribe_MergesSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	segs := []segmentation.Segment{
		{Index: 0, Path: writeSegmentFile(t, dir, "segment_000.wav")},
		{Index: 1, Path: writeSegmentFile(t, dir, "segment_001.wav")},
	}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": textFor(n)})
	}))
	defer srv.Close()

	o := New(srv.URL, "test-key")
	progress := make(chan ProgressEvent, 16)
	res, err := o.Transcribe(context.Background(), segs, Options{Model: "whisper-1"}, progress)
	require.NoError(t, err)
	require.Equal(t, "segment one\n\nsegment two", res.Text)
	require.Equal(t, int32(2), calls)
}

func textFor(call int32) string {
	switch call {
	case 1:
		return "segment one"
	default:
		return "segment two"
	}
}

func TestTranscribe_RetriesOn500ThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	segs := []segmentation.Segment{
		{Index: 0, Path: writeSegmentFile(t, dir, "segment_000.wav")},
	}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "boom"}})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "recovered"})
	}))
	defer srv.Close()

	o := New(srv.URL, "test-key")
	res, err := o.Transcribe(context.Background(), segs, Options{Model: "whisper-1"}, nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", res.Text)
	require.GreaterOrEqual(t, calls, int32(2))
}

func TestTranscribe_RetriesExhaustedSurfacesAsrPermanent(t *testing.T) {
	dir := t.TempDir()
	segs := []segmentation.Segment{
		{Index: 0, Path: writeSegmentFile(t, dir, "segment_000.wav")},
	}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "still down"}})
	}))
	defer srv.Close()

	o := New(srv.URL, "test-key")
	_, err := o.Transcribe(context.Background(), segs, Options{Model: "whisper-1"}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAsrPermanent)
	require.Equal(t, int32(3), calls) // 3 attempts total, every one transient, then surfaced as permanent
}

func TestTranscribe_PermanentFailureStopsRun(t *testing.T) {
	dir := t.TempDir()
	segs := []segmentation.Segment{
		{Index: 0, Path: writeSegmentFile(t, dir, "segment_000.wav")},
		{Index: 1, Path: writeSegmentFile(t, dir, "segment_001.wav")},
	}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad request"}})
	}))
	defer srv.Close()

	o := New(srv.URL, "test-key")
	_, err := o.Transcribe(context.Background(), segs, Options{Model: "whisper-1"}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAsrPermanent)
	require.Equal(t, int32(1), calls) // never reaches segment 1, and no retries on a 4xx
}

func TestTranscribe_EmptySegmentsDropped(t *testing.T) {
	dir := t.TempDir()
	segs := []segmentation.Segment{
		{Index: 0, Path: writeSegmentFile(t, dir, "segment_000.wav")},
		{Index: 1, Path: writeSegmentFile(t, dir, "segment_001.wav")},
	}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		text := "only one has content"
		if n == 1 {
			text = "   "
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	defer srv.Close()

	o := New(srv.URL, "test-key")
	res, err := o.Transcribe(context.Background(), segs, Options{Model: "whisper-1"}, nil)
	require.NoError(t, err)
	require.Equal(t, "only one has content", res.Text)
	require.Len(t, res.SegmentTexts, 1)
}
