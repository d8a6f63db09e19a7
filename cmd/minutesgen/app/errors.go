package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mtokuhisa/minutesgen/pkg/binarymanager"
	"github.com/mtokuhisa/minutesgen/pkg/intake"
	"github.com/mtokuhisa/minutesgen/pkg/minutes"
	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
	"github.com/mtokuhisa/minutesgen/pkg/segmentstore"
	"github.com/mtokuhisa/minutesgen/pkg/transcription"
)

// ErrCancelled is returned when a run's cancellation token fires between
// stages.
var ErrCancelled = errors.New("app: run cancelled")

// apiError is the code+message shape surfaced to the UI; callers never see
// a raw Go stack.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// classify maps an internal error to the stable code taxonomy, never
// leaking implementation-specific error text beyond Message.
func classify(err error) *apiError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCancelled):
		return &apiError{Code: "Cancelled", Message: err.Error()}
	case errors.Is(err, binarymanager.ErrBinaryMissing):
		return &apiError{Code: "BinaryMissing", Message: err.Error()}
	case isBinaryUnexecutable(err):
		return &apiError{Code: "BinaryUnexecutable", Message: err.Error()}
	case errors.Is(err, intake.ErrSessionUnknown):
		return &apiError{Code: "IntakeSessionUnknown", Message: err.Error()}
	case errors.Is(err, intake.ErrChunkOutOfRange):
		return &apiError{Code: "ChunkOutOfRange", Message: err.Error()}
	case errors.Is(err, segmentstore.ErrChunkDuplicate):
		return &apiError{Code: "ChunkDuplicate", Message: err.Error()}
	case errors.Is(err, segmentstore.ErrSizeExceeded):
		return &apiError{Code: "SizeExceeded", Message: err.Error()}
	case errors.Is(err, segmentstore.ErrIncompleteUpload):
		return &apiError{Code: "IncompleteUpload", Message: err.Error()}
	case errors.Is(err, segmentation.ErrNoAudioStream):
		return &apiError{Code: "NoAudioStream", Message: err.Error()}
	case isTranscodeFailed(err):
		return &apiError{Code: "TranscodeFailed", Message: err.Error()}
	case errors.Is(err, transcription.ErrAsrTransient):
		return &apiError{Code: "AsrTransient", Message: err.Error()}
	case errors.Is(err, transcription.ErrAsrPermanent):
		return &apiError{Code: "AsrPermanent", Message: err.Error()}
	case errors.Is(err, transcription.ErrTranscriptionFailed):
		return &apiError{Code: "TranscriptionFailed", Message: err.Error()}
	case errors.Is(err, minutes.ErrChatTransient):
		return &apiError{Code: "ChatTransient", Message: err.Error()}
	case errors.Is(err, minutes.ErrChatPermanent):
		return &apiError{Code: "ChatPermanent", Message: err.Error()}
	case errors.Is(err, minutes.ErrAssemblyFailed):
		return &apiError{Code: "MinutesParseFailed", Message: err.Error()}
	default:
		return &apiError{Code: "Internal", Message: err.Error()}
	}
}

func isBinaryUnexecutable(err error) bool {
	var target *binarymanager.ErrBinaryUnexecutable
	return errors.As(err, &target)
}

func isTranscodeFailed(err error) bool {
	var target *segmentation.ErrTranscodeFailed
	return errors.As(err, &target)
}

// httpStatusForCode maps the §7 error taxonomy to an HTTP status for the
// huma-documented surface.
func httpStatusForCode(code string) int {
	switch code {
	case "IntakeSessionUnknown":
		return http.StatusNotFound
	case "ChunkOutOfRange":
		return http.StatusBadRequest
	case "ChunkDuplicate":
		return http.StatusConflict
	case "SizeExceeded", "IncompleteUpload", "NoAudioStream":
		return http.StatusUnprocessableEntity
	case "Unauthorized":
		return http.StatusUnauthorized
	case "Cancelled":
		return http.StatusConflict
	case "BinaryMissing", "BinaryUnexecutable", "TranscodeFailed",
		"AsrTransient", "AsrPermanent", "TranscriptionFailed",
		"ChatTransient", "ChatPermanent", "MinutesParseFailed", "Internal":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// toHumaErr classifies err per §7 and wraps it as a huma error carrying the
// HTTP status for its code; the code travels as a "[Code] " prefix of the
// error's detail text, not as a separate JSON field.
func toHumaErr(err error) error {
	if err == nil {
		return nil
	}
	ae := classify(err)
	return huma.NewError(httpStatusForCode(ae.Code), fmt.Sprintf("[%s] %s", ae.Code, ae.Message))
}
