package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mtokuhisa/minutesgen/pkg/minutes"
	"github.com/mtokuhisa/minutesgen/pkg/prompts"
	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
	"github.com/mtokuhisa/minutesgen/pkg/transcription"
)

// Stage names pushed on the progress channel, per spec.md §6.
const (
	stagePending      = "pending"
	stageSegmenting   = "segmenting"
	stageTranscribing = "transcribing"
	stageAssembling   = "assembling"
	stageDone         = "done"
	stageError        = "error"
	stageCancelled    = "cancelled"
)

// run tracks one pipeline instance end to end: segmentation output,
// transcript, and minutes artifact, plus the cancellation token spec.md §5
// says every run holds.
type run struct {
	ID     string
	cancel context.CancelFunc

	mu         sync.Mutex
	Stage      string
	Segments   []segmentation.Segment
	Transcript transcription.Result
	Minutes    *minutes.Result
	Err        *apiError
}

func (r *run) setStage(s string) {
	r.mu.Lock()
	r.Stage = s
	r.mu.Unlock()
}

func (r *run) setErr(e *apiError) {
	r.mu.Lock()
	r.Stage = stageError
	r.Err = e
	r.mu.Unlock()
}

// runRegistry is the process-wide run table, guarded by a mutex, matching
// the teacher's map+mutex ingester registry shape generalized to the
// minutes-generation pipeline's own run lifecycle.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*run
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*run)}
}

func (rr *runRegistry) create(parent context.Context) (*run, context.Context) {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(parent)
	r := &run{ID: id, cancel: cancel, Stage: stagePending}
	rr.mu.Lock()
	rr.runs[id] = r
	rr.mu.Unlock()
	return r, ctx
}

func (rr *runRegistry) get(id string) (*run, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	r, ok := rr.runs[id]
	return r, ok
}

func (rr *runRegistry) cancelRun(id string) bool {
	rr.mu.Lock()
	r, ok := rr.runs[id]
	rr.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	return true
}

func (rr *runRegistry) remove(id string) {
	rr.mu.Lock()
	delete(rr.runs, id)
	rr.mu.Unlock()
}

// runSegmentation drives SE for one run, publishing coarse progress events,
// and records the result on the run.
func (s *Server) runSegmentation(ctx context.Context, r *run, inputPath string, segmentSeconds int) (segmentation.Result, error) {
	r.setStage(stageSegmenting)
	s.progress.Publish(r.ID, ProgressEvent{
		Stage: stageSegmenting, Percentage: 0, CurrentTask: "probing and segmenting audio",
		Logs: []LogEntry{logEntry("info", fmt.Sprintf("segmenting %s", inputPath))},
	})

	runDir, err := s.store.AllocateSegmentDir(r.ID)
	if err != nil {
		return segmentation.Result{}, err
	}

	if segmentSeconds <= 0 {
		segmentSeconds = s.Cfg.SegmentSeconds
	}
	res, err := s.segEngine.Segment(ctx, inputPath, segmentation.Options{
		SegmentSeconds: segmentSeconds,
		RunDir:         runDir,
	})
	if err != nil {
		return segmentation.Result{}, err
	}

	r.mu.Lock()
	r.Segments = res.Segments
	r.mu.Unlock()

	s.progress.Publish(r.ID, ProgressEvent{
		Stage: stageSegmenting, Percentage: 100, CurrentTask: "segmentation complete",
		Logs: []LogEntry{logEntry("info", fmt.Sprintf("%d segments emitted", len(res.Segments)))},
	})
	return res, nil
}

// runTranscription drives TO for one run, relaying its coarse per-segment
// progress events onto the run's SSE channel.
func (s *Server) runTranscription(ctx context.Context, r *run, segments []segmentation.Segment, opts transcription.Options) (transcription.Result, error) {
	r.setStage(stageTranscribing)

	events := make(chan transcription.ProgressEvent, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			pct := 0
			if ev.Total > 0 {
				pct = (ev.Index * 100) / ev.Total
			}
			task := fmt.Sprintf("transcribing segment %d/%d", ev.Index+1, ev.Total)
			var logs []LogEntry
			if ev.Err != nil {
				logs = []LogEntry{logEntry("error", ev.Err.Error())}
			}
			s.progress.Publish(r.ID, ProgressEvent{Stage: stageTranscribing, Percentage: pct, CurrentTask: task, Logs: logs})
		}
	}()

	res, err := s.transcriber.Transcribe(ctx, segments, opts, events)
	close(events)
	<-done
	if err != nil {
		return transcription.Result{}, err
	}

	r.mu.Lock()
	r.Transcript = res
	r.mu.Unlock()

	s.progress.Publish(r.ID, ProgressEvent{Stage: stageTranscribing, Percentage: 100, CurrentTask: "transcription complete"})
	return res, nil
}

// runMinutesAssembly drives MA for one run: a single synchronous request.
func (s *Server) runMinutesAssembly(ctx context.Context, r *run, transcript string, tmpl prompts.Template, customSuffix string, opts minutes.Options) (minutes.Result, error) {
	r.setStage(stageAssembling)
	s.progress.Publish(r.ID, ProgressEvent{Stage: stageAssembling, Percentage: 0, CurrentTask: "generating minutes"})

	res, err := s.assembler.Assemble(ctx, transcript, tmpl, customSuffix, opts)
	if err != nil {
		return minutes.Result{}, err
	}

	r.mu.Lock()
	r.Minutes = &res
	r.mu.Unlock()

	warn := ""
	if res.WordFailed {
		warn = "word artifact generation failed; outputs[\"word\"] carries the failure marker"
	}
	var logs []LogEntry
	if warn != "" {
		logs = []LogEntry{logEntry("warn", warn)}
	}
	s.progress.Publish(r.ID, ProgressEvent{Stage: stageDone, Percentage: 100, CurrentTask: "minutes ready", Logs: logs})
	return res, nil
}
