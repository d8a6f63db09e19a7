package segmentation

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtokuhisa/minutesgen/pkg/binarymanager"
)

// The fake transcoder understands just enough of the real CLI surface to
// drive the engine's invocation shapes: duration probe (-f null), one-second
// trial extraction (-t 1, which fails when the scripted duration is 0),
// segmented normalize (-segment_time), and whole-file normalize. It reads
// the intended total duration in seconds from a sibling ".secs" file next
// to its input, so individual tests can script different durations without
// needing a real media decoder.
func writeFakeTranscoder(t *testing.T, dir string) string {
	t.Helper()
	name := "transcoder"
	if runtime.GOOS == "windows" {
		name = "transcoder.bat"
	}
	path := filepath.Join(dir, name)

	var body string
	if runtime.GOOS == "windows" {
		body = "@echo off\r\n" +
			"rem fake transcoder for tests; unsupported on windows in this harness\r\n" +
			"exit /b 1\r\n"
	} else {
		body = `#!/bin/sh
input=""
pattern=""
mode="probe"
segs=0
prev=""
for arg in "$@"; do
  case "$prev" in
    -i) input="$arg" ;;
    -segment_time) segs="$arg" ;;
  esac
  case "$arg" in
    -segment_time) mode="segment" ;;
  esac
  prev="$arg"
  last="$arg"
done
secsfile="${input}.secs"
total=5
if [ -f "$secsfile" ]; then
  total=$(cat "$secsfile")
fi

if [ "$mode" = "segment" ]; then
  n=$(( (total + segs - 1) / segs ))
  if [ "$n" -le 0 ]; then n=1; fi
  i=0
  remaining=$total
  while [ "$i" -lt "$n" ]; do
    this=$segs
    if [ "$remaining" -lt "$segs" ]; then this=$remaining; fi
    outfile=$(printf "$last" "$i")
    printf '%s' "$this" > "${outfile}.secs"
    head -c 16 /dev/zero > "$outfile"
    i=$((i+1))
    remaining=$((remaining-this))
  done
  exit 0
fi

case "$*" in
  *"-t 1"*)
    if [ "$total" -le 0 ]; then exit 1; fi
    exit 0
    ;;
  *"-f null"*)
    printf '%s' "$total" > /dev/null
    h=$((total/3600)); m=$(( (total%3600)/60 )); s=$((total%60))
    printf 'Duration: %02d:%02d:%02d.00\n' "$h" "$m" "$s" 1>&2
    exit 0
    ;;
esac

# whole-file normalize: last arg is the output path
printf '%s' "$total" > "${last}.secs"
head -c 16 /dev/zero > "$last"
exit 0
`
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	srcDir := t.TempDir()
	writeFakeTranscoder(t, srcDir)
	binName := "transcoder"
	if runtime.GOOS == "windows" {
		binName = "transcoder.bat"
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	bins := binarymanager.New("minutesgen-test", srcDir, binName)
	return New(bins), home
}

// writeInput creates a placeholder input plus its ".secs" sidecar holding the
// intended duration. The fake transcoder reads that sidecar on every call:
// probes print it as a Duration log line, and the segment/whole-file paths
// write per-file sidecars so later probes of the emitted files see their
// own durations, since the fake never decodes real media.
func writeInput(t *testing.T, dir string, name string, secs int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("not real media"), 0o600))
	require.NoError(t, os.WriteFile(p+".secs", []byte(strconv.Itoa(secs)), 0o600))
	return p
}

func TestSegment_MultipleSegments(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake transcoder is a POSIX shell script")
	}
	eng, _ := newTestEngine(t)
	inputDir := t.TempDir()
	input := writeInput(t, inputDir, "meeting.mov", 25)

	runDir := t.TempDir()
	res, err := eng.Segment(context.Background(), input, Options{SegmentSeconds: 10, RunDir: runDir})
	require.NoError(t, err)
	require.Len(t, res.Segments, 3)

	var cursor time.Duration
	for _, s := range res.Segments {
		require.Equal(t, cursor, s.Start)
		cursor = s.End
	}
	require.Equal(t, 25*time.Second, cursor)
}

func TestSegment_ShorterThanIntervalYieldsOneSegment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake transcoder is a POSIX shell script")
	}
	eng, _ := newTestEngine(t)
	inputDir := t.TempDir()
	input := writeInput(t, inputDir, "short.mov", 4)

	runDir := t.TempDir()
	res, err := eng.Segment(context.Background(), input, Options{SegmentSeconds: 600, RunDir: runDir})
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	require.Equal(t, time.Duration(0), res.Segments[0].Start)
}

func TestSegment_NoAudioStreamFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake transcoder is a POSIX shell script")
	}
	eng, _ := newTestEngine(t)
	inputDir := t.TempDir()
	input := writeInput(t, inputDir, "silent.mov", 0)

	runDir := t.TempDir()
	_, err := eng.Segment(context.Background(), input, Options{SegmentSeconds: 600, RunDir: runDir})
	require.ErrorIs(t, err, ErrNoAudioStream)
}
