// Package transcription drives an ASR endpoint over an ordered sequence of
// audio segments, submitting strictly one at a time to bound concurrent
// network and memory use, and merges the per-segment text into a single
// transcript.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
)

// ErrAsrTransient marks a retryable ASR failure. It is only ever seen
// inside the retry loop — callers of Transcribe never observe it, since
// transient failures are retried until they succeed or are reclassified
// as ErrAsrPermanent once retries are exhausted.
var ErrAsrTransient = errors.New("transcription: transient ASR failure")

// ErrAsrPermanent is the terminal ASR failure surfaced to the caller,
// whether the underlying cause was an immediate non-retryable response
// (e.g. 4xx) or a transient failure that persisted across every retry.
var ErrAsrPermanent = errors.New("transcription: permanent ASR failure")

// ErrTranscriptionFailed wraps a terminal run failure that did not
// originate from the ASR call itself (e.g. the case where segmentation
// itself failed and the caller must not fall back to sending the whole
// input, since it would exceed the ASR per-request cap).
var ErrTranscriptionFailed = errors.New("transcription: run failed")

// newLowLevelModels identifies ASR models whose response-format matrix
// selects plain json over verbose_json when timestamps are requested.
var newLowLevelModels = map[string]bool{
	"gpt-4o-transcribe":      true,
	"gpt-4o-mini-transcribe": true,
}

// Options configures a transcription run.
type Options struct {
	Model             string
	Language          string // empty = auto-detect
	RequestTimestamps bool
}

// EventKind distinguishes coarse-granularity progress events.
type EventKind int

const (
	EventSegmentStart EventKind = iota
	EventSegmentEnd
)

// ProgressEvent is emitted at segment start and end; consumers render it as
// they see fit (e.g. an SSE progress channel).
type ProgressEvent struct {
	Kind  EventKind
	Index int
	Total int
	Err   error
}

// Result is the merged outcome of a transcription run.
type Result struct {
	Text         string
	SegmentTexts []string
}

// Orchestrator submits segments to an ASR endpoint.
type Orchestrator struct {
	client *openai.Client
}

// New returns an Orchestrator talking to baseURL with apiKey. An empty
// baseURL uses the client's default (the official API host).
func New(baseURL, apiKey string) *Orchestrator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Orchestrator{client: openai.NewClientWithConfig(cfg)}
}

// Transcribe submits segments in order, one at a time, retrying each on
// transient failure, and returns the merged transcript. progress may be nil.
func (o *Orchestrator) Transcribe(ctx context.Context, segments []segmentation.Segment, opts Options, progress chan<- ProgressEvent) (Result, error) {
	texts := make([]string, 0, len(segments))

	for _, seg := range segments {
		emit(progress, ProgressEvent{Kind: EventSegmentStart, Index: seg.Index, Total: len(segments)})

		text, err := o.transcribeOneWithRetry(ctx, seg, opts)
		if err != nil {
			emit(progress, ProgressEvent{Kind: EventSegmentEnd, Index: seg.Index, Total: len(segments), Err: err})
			return Result{}, fmt.Errorf("segment %d: %w", seg.Index, err)
		}

		emit(progress, ProgressEvent{Kind: EventSegmentEnd, Index: seg.Index, Total: len(segments)})
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			texts = append(texts, trimmed)
		}
	}

	return Result{Text: strings.Join(texts, "\n\n"), SegmentTexts: texts}, nil
}

func (o *Orchestrator) transcribeOneWithRetry(ctx context.Context, seg segmentation.Segment, opts Options) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx) // 3 attempts total

	var text string
	op := func() error {
		t, err := o.transcribeOne(ctx, seg, opts)
		if err != nil {
			if isTransient(err) {
				return fmt.Errorf("%w: %v", ErrAsrTransient, err)
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrAsrPermanent, err))
		}
		text = t
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrAsrPermanent) {
			return "", err
		}
		// Every retry was exhausted without success; a transient failure
		// that never recovers is surfaced as permanent, per P7.
		return "", fmt.Errorf("%w: retries exhausted: %v", ErrAsrPermanent, err)
	}
	return text, nil
}

func (o *Orchestrator) transcribeOne(ctx context.Context, seg segmentation.Segment, opts Options) (string, error) {
	req := openai.AudioRequest{
		Model:    opts.Model,
		FilePath: seg.Path,
		Language: opts.Language,
	}
	if opts.RequestTimestamps {
		if newLowLevelModels[opts.Model] {
			req.Format = openai.AudioResponseFormatJSON
		} else {
			req.Format = openai.AudioResponseFormatVerboseJSON
		}
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// isTransient classifies network errors, 5xx, and 429 (Retry-After honored
// upstream by the caller's context deadline, not modeled explicitly here)
// as retryable; any other 4xx is permanent.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}
	// Anything we can't classify as a structured API error (connection
	// reset, timeout, DNS failure) is treated as transient.
	return true
}

func emit(ch chan<- ProgressEvent, ev ProgressEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
