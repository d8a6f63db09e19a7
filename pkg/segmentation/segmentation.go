// Package segmentation turns an arbitrary audio/video input into an
// ordered, contiguous sequence of small, uniformly formatted audio
// segments suitable for an ASR endpoint with a hard per-request size
// ceiling, streaming everything through the bundled transcoder binary so
// the full input is never held in memory.
package segmentation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/mtokuhisa/minutesgen/pkg/binarymanager"
)

// ErrNoAudioStream is returned when the input carries no audio track at all.
var ErrNoAudioStream = errors.New("segmentation: input has no audio stream")

// ErrTranscodeFailed wraps a non-zero transcoder exit with the tail of its
// diagnostic stream.
type ErrTranscodeFailed struct {
	Stage          string
	ExitErr        error
	StderrTail     string
}

func (e *ErrTranscodeFailed) Error() string {
	return fmt.Sprintf("segmentation: transcode failed at %s: %v (stderr: %s)", e.Stage, e.ExitErr, e.StderrTail)
}

func (e *ErrTranscodeFailed) Unwrap() error { return e.ExitErr }

// Segment describes one emitted, precisely-timed audio slice.
type Segment struct {
	Index int
	Path  string
	Start time.Duration
	End   time.Duration
}

func (s Segment) Duration() time.Duration { return s.End - s.Start }

// Options configures a single segmentation run.
type Options struct {
	// SegmentSeconds is the target length of each emitted segment. Defaults
	// to 600 (10 minutes) when zero.
	SegmentSeconds int
	// RunDir is the directory segments are written into; the caller owns
	// its lifecycle (see pkg/segmentstore.AllocateSegmentDir/CleanupRun).
	RunDir string
}

// Result is the outcome of a completed segmentation run.
type Result struct {
	Segments      []Segment
	TotalDuration time.Duration
}

// Engine drives the transcoder binary to normalize and segment inputs.
type Engine struct {
	bins *binarymanager.Manager
}

// New returns an Engine that resolves the transcoder via bins.
func New(bins *binarymanager.Manager) *Engine {
	return &Engine{bins: bins}
}

var durationRe = regexp.MustCompile(`Duration:\s*(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)

// Segment runs the full normalize-and-slice pipeline against inputPath and
// returns the ordered segment list with precise start/end offsets.
func (e *Engine) Segment(ctx context.Context, inputPath string, opts Options) (Result, error) {
	segSeconds := opts.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 600
	}

	binPath, err := e.bins.EnsureReady(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolve transcoder: %w", err)
	}

	total, err := e.probeDuration(ctx, binPath, inputPath)
	if err != nil {
		return Result{}, err
	}

	pattern := filepath.Join(opts.RunDir, "segment_%03d.wav")
	stderrTail, err := e.normalizeAndSegment(ctx, binPath, inputPath, pattern, segSeconds)
	if err != nil {
		return Result{}, &ErrTranscodeFailed{Stage: "segment", ExitErr: err, StderrTail: stderrTail}
	}

	files, err := e.listSegmentFiles(opts.RunDir)
	if err != nil {
		return Result{}, err
	}

	if len(files) == 0 {
		singlePattern := filepath.Join(opts.RunDir, "segment_000.wav")
		if stderrTail, err := e.normalizeWhole(ctx, binPath, inputPath, singlePattern); err != nil {
			return Result{}, &ErrTranscodeFailed{Stage: "segment-whole", ExitErr: err, StderrTail: stderrTail}
		}
		files = []string{singlePattern}
	}

	sort.Strings(files)

	segments := make([]Segment, 0, len(files))
	var cursor time.Duration
	for i, f := range files {
		dur, err := e.probeDuration(ctx, binPath, f)
		if err != nil {
			return Result{}, fmt.Errorf("probe segment %d: %w", i, err)
		}
		segments = append(segments, Segment{
			Index: i,
			Path:  f,
			Start: cursor,
			End:   cursor + dur,
		})
		cursor += dur
	}

	return Result{Segments: segments, TotalDuration: total}, nil
}

// probeDuration invokes the transcoder in info mode against a null muxer and
// parses HH:MM:SS.cc from its log stream. If parsing yields zero, a
// one-second trial extraction is attempted to distinguish "genuinely silent"
// from "broken input".
func (e *Engine) probeDuration(ctx context.Context, binPath, path string) (time.Duration, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binPath, "-i", path, "-f", "null", "-")
	cmd.Stderr = &stderr
	_ = cmd.Run() // ffmpeg-style info probes exit non-zero with no output muxer; duration lives in stderr regardless

	if d, ok := parseDuration(stderr.String()); ok && d > 0 {
		return d, nil
	}

	if err := e.trialExtract(ctx, binPath, path); err != nil {
		return 0, ErrNoAudioStream
	}
	return 0, nil
}

func parseDuration(log string) (time.Duration, bool) {
	m := durationRe.FindStringSubmatch(log)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	cs, _ := strconv.Atoi(m[4])
	d := time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(s)*time.Second + time.Duration(cs)*10*time.Millisecond
	return d, true
}

// trialExtract attempts a one-second extraction to disambiguate a broken
// input from one whose duration simply failed to parse from the log.
func (e *Engine) trialExtract(ctx context.Context, binPath, path string) error {
	cmd := exec.CommandContext(ctx, binPath, "-i", path, "-t", "1", "-f", "null", "-")
	return cmd.Run()
}

// normalizeAndSegment performs the single-invocation normalize + segment
// step: 16-bit signed LE PCM, 44.1 kHz, mono, WAV, sliced via the segment
// muxer at segSeconds intervals.
func (e *Engine) normalizeAndSegment(ctx context.Context, binPath, inputPath, outPattern string, segSeconds int) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binPath,
		"-i", inputPath,
		"-vn",
		"-ar", "44100",
		"-ac", "1",
		"-sample_fmt", "s16",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segSeconds),
		"-reset_timestamps", "1",
		outPattern,
	)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return tail(stderr.Bytes(), 4096), err
}

// normalizeWhole covers the edge case where the input is shorter than one
// segment interval and the segment muxer elided any output: a single
// invocation without -f segment emits exactly one file.
func (e *Engine) normalizeWhole(ctx context.Context, binPath, inputPath, outPath string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binPath,
		"-i", inputPath,
		"-vn",
		"-ar", "44100",
		"-ac", "1",
		"-sample_fmt", "s16",
		outPath,
	)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return tail(stderr.Bytes(), 4096), err
}

func (e *Engine) listSegmentFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "segment_*.wav"))
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return matches, nil
}

func tail(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[len(b)-max:])
}
