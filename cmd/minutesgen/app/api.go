package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/mtokuhisa/minutesgen/pkg/minutes"
	"github.com/mtokuhisa/minutesgen/pkg/prompts"
	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
	"github.com/mtokuhisa/minutesgen/pkg/transcription"
)

// wordFailureMarker is the literal value placed in outputs["word"] when
// Word document generation fails, per spec.md §7: the run still succeeds
// with a warning rather than aborting, and the entry's underlying document
// size is 0 even though the marker string itself is non-empty.
const wordFailureMarker = "[WORD_GENERATION_FAILED]"

// --- initialize ---

type initializeResponse struct {
	Body struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
}

func createInitializeHdlr(s *Server) func(ctx context.Context, _ *struct{}) (*initializeResponse, error) {
	return func(ctx context.Context, _ *struct{}) (*initializeResponse, error) {
		resp := &initializeResponse{}
		if _, err := s.binMgr.EnsureReady(ctx); err != nil {
			resp.Body.Success = false
			resp.Body.Error = classify(err).Message
			return resp, nil
		}
		resp.Body.Success = true
		return resp, nil
	}
}

// --- intake: save-file-to-temp ---

type directUploadRequest struct {
	Body struct {
		Name string `json:"name" doc:"Logical file name"`
		Data []byte `json:"data" doc:"Raw file bytes"`
	}
}

type directUploadResponse struct {
	Body struct {
		Success  bool   `json:"success"`
		TempPath string `json:"temp_path,omitempty"`
		Error    string `json:"error,omitempty"`
	}
}

func createDirectUploadHdlr(s *Server) func(ctx context.Context, req *directUploadRequest) (*directUploadResponse, error) {
	return func(ctx context.Context, req *directUploadRequest) (*directUploadResponse, error) {
		resp := &directUploadResponse{}
		if int64(len(req.Body.Data)) > s.Cfg.DirectUploadMaxBytes {
			return nil, huma.NewError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("direct upload exceeds %d byte ceiling; use chunked upload", s.Cfg.DirectUploadMaxBytes))
		}
		path, err := s.intakeRegistry.SaveToTemp(req.Body.Name, req.Body.Data)
		if err != nil {
			return nil, toHumaErr(err)
		}
		resp.Body.Success = true
		resp.Body.TempPath = path
		return resp, nil
	}
}

// --- intake: start-chunked-upload ---

type startUploadRequest struct {
	Body struct {
		Name string `json:"name" doc:"Logical file name"`
		Size int64  `json:"size" doc:"Declared total size in bytes"`
	}
}

type startUploadResponse struct {
	Body struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id,omitempty"`
		Error     string `json:"error,omitempty"`
	}
}

func createStartUploadHdlr(s *Server) func(ctx context.Context, req *startUploadRequest) (*startUploadResponse, error) {
	return func(ctx context.Context, req *startUploadRequest) (*startUploadResponse, error) {
		resp := &startUploadResponse{}
		id, err := s.intakeRegistry.Start(req.Body.Name, req.Body.Size)
		if err != nil {
			return nil, toHumaErr(err)
		}
		resp.Body.Success = true
		resp.Body.SessionID = id
		return resp, nil
	}
}

// --- intake: upload-chunk ---

type uploadChunkInput struct {
	SessionID string `path:"sessionId" doc:"Upload session id"`
	Index     int    `path:"index" doc:"0-based chunk index"`
	Body      struct {
		Data []byte `json:"data" doc:"Chunk bytes"`
	}
}

type uploadChunkResponse struct {
	Body struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
}

func createUploadChunkHdlr(s *Server) func(ctx context.Context, in *uploadChunkInput) (*uploadChunkResponse, error) {
	return func(ctx context.Context, in *uploadChunkInput) (*uploadChunkResponse, error) {
		resp := &uploadChunkResponse{}
		if err := s.intakeRegistry.UploadChunk(in.SessionID, in.Index, in.Body.Data); err != nil {
			return nil, toHumaErr(err)
		}
		resp.Body.Success = true
		return resp, nil
	}
}

// --- intake: finalize-chunked-upload ---

type sessionIDInput struct {
	SessionID string `path:"sessionId" doc:"Upload session id"`
}

type finalizeUploadResponse struct {
	Body struct {
		Success  bool   `json:"success"`
		TempPath string `json:"temp_path,omitempty"`
		Error    string `json:"error,omitempty"`
	}
}

func createFinalizeUploadHdlr(s *Server) func(ctx context.Context, in *sessionIDInput) (*finalizeUploadResponse, error) {
	return func(ctx context.Context, in *sessionIDInput) (*finalizeUploadResponse, error) {
		resp := &finalizeUploadResponse{}
		path, err := s.intakeRegistry.Finalize(in.SessionID)
		if err != nil {
			return nil, toHumaErr(err)
		}
		resp.Body.Success = true
		resp.Body.TempPath = path
		return resp, nil
	}
}

// --- intake: cleanup-chunked-upload ---

type cleanupResponse struct {
	Body struct {
		Success bool `json:"success"`
	}
}

func createCleanupUploadHdlr(s *Server) func(ctx context.Context, in *sessionIDInput) (*cleanupResponse, error) {
	return func(ctx context.Context, in *sessionIDInput) (*cleanupResponse, error) {
		_ = s.intakeRegistry.Cleanup(in.SessionID)
		resp := &cleanupResponse{}
		resp.Body.Success = true
		return resp, nil
	}
}

// --- segmentation: process-file-by-path ---

type segmentInfo struct {
	Name      string  `json:"name"`
	Duration  float64 `json:"duration"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	FilePath  string  `json:"file_path"`
}

type processFileRequest struct {
	Body struct {
		Path           string `json:"path" doc:"Absolute path to the assembled input file"`
		SegmentSeconds *int   `json:"segment_seconds,omitempty" doc:"Target segment duration; defaults to the server's configured value"`
	}
}

type processFileResponse struct {
	Body struct {
		Success  bool          `json:"success"`
		RunID    string        `json:"run_id,omitempty"`
		Segments []segmentInfo `json:"segments,omitempty"`
		Error    string        `json:"error,omitempty"`
	}
}

func createProcessFileHdlr(s *Server) func(ctx context.Context, req *processFileRequest) (*processFileResponse, error) {
	return func(ctx context.Context, req *processFileRequest) (*processFileResponse, error) {
		resp := &processFileResponse{}
		segSeconds := 0
		if req.Body.SegmentSeconds != nil {
			segSeconds = *req.Body.SegmentSeconds
		}

		r, rctx := s.runs.create(ctx)
		result, err := s.runSegmentation(rctx, r, req.Body.Path, segSeconds)
		if err != nil {
			r.setErr(classify(err))
			return nil, toHumaErr(err)
		}

		resp.Body.Success = true
		resp.Body.RunID = r.ID
		resp.Body.Segments = toSegmentInfos(result.Segments)
		return resp, nil
	}
}

func toSegmentInfos(segs []segmentation.Segment) []segmentInfo {
	out := make([]segmentInfo, 0, len(segs))
	for _, sg := range segs {
		out = append(out, segmentInfo{
			Name:      fmt.Sprintf("segment_%03d.wav", sg.Index),
			Duration:  sg.Duration().Seconds(),
			StartTime: sg.Start.Seconds(),
			EndTime:   sg.End.Seconds(),
			FilePath:  sg.Path,
		})
	}
	return out
}

// --- segmentation: read-segment-file ---

type readSegmentInput struct {
	RunID string `path:"id" doc:"Run id returned by process-file-by-path"`
	Name  string `path:"name" doc:"Segment file name, e.g. segment_000.wav"`
}

type readSegmentResponse struct {
	Body struct {
		Success bool   `json:"success"`
		Data    []byte `json:"data,omitempty" doc:"Segment bytes, base64-encoded over the wire"`
		Error   string `json:"error,omitempty"`
	}
}

func createReadSegmentHdlr(s *Server) func(ctx context.Context, in *readSegmentInput) (*readSegmentResponse, error) {
	return func(ctx context.Context, in *readSegmentInput) (*readSegmentResponse, error) {
		r, ok := s.runs.get(in.RunID)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("unknown run %q", in.RunID))
		}
		var path string
		r.mu.Lock()
		for _, sg := range r.Segments {
			if fmt.Sprintf("segment_%03d.wav", sg.Index) == in.Name {
				path = sg.Path
				break
			}
		}
		r.mu.Unlock()
		if path == "" {
			return nil, huma.Error404NotFound(fmt.Sprintf("unknown segment %q for run %q", in.Name, in.RunID))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("read segment: %v", err))
		}

		resp := &readSegmentResponse{}
		resp.Body.Success = true
		resp.Body.Data = data
		return resp, nil
	}
}

// --- transcription ---

type transcribeRunInput struct {
	RunID string `path:"id" doc:"Run id returned by process-file-by-path"`
	Body  struct {
		Model             string `json:"model,omitempty"`
		Language          string `json:"language,omitempty" doc:"Empty means auto-detect"`
		RequestTimestamps bool   `json:"request_timestamps,omitempty"`
	}
}

type transcribeRunResponse struct {
	Body struct {
		Success bool   `json:"success"`
		Text    string `json:"text,omitempty"`
		Error   string `json:"error,omitempty"`
	}
}

func createTranscribeRunHdlr(s *Server) func(ctx context.Context, in *transcribeRunInput) (*transcribeRunResponse, error) {
	return func(ctx context.Context, in *transcribeRunInput) (*transcribeRunResponse, error) {
		r, ok := s.runs.get(in.RunID)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("unknown run %q", in.RunID))
		}
		r.mu.Lock()
		segments := r.Segments
		r.mu.Unlock()
		if len(segments) == 0 {
			return nil, huma.Error422UnprocessableEntity("run has no segments; call process-file-by-path first")
		}

		model := in.Body.Model
		if model == "" {
			model = s.Cfg.ASRModel
		}
		opts := transcription.Options{Model: model, Language: in.Body.Language, RequestTimestamps: in.Body.RequestTimestamps}

		res, err := s.runTranscription(ctx, r, segments, opts)
		if err != nil {
			r.setErr(classify(err))
			return nil, toHumaErr(err)
		}

		resp := &transcribeRunResponse{}
		resp.Body.Success = true
		resp.Body.Text = res.Text
		return resp, nil
	}
}

// --- minutes assembly ---

type actionItemOutput struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
}

type minutesOutputs struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Word     string `json:"word"`
}

type minutesMetadata struct {
	Model       string `json:"model"`
	GeneratedAt string `json:"generated_at"`
}

type minutesOutput struct {
	Title        string             `json:"title"`
	Participants []string           `json:"participants"`
	Summary      string             `json:"summary"`
	KeyPoints    []string           `json:"key_points"`
	ActionItems  []actionItemOutput `json:"action_items"`
	Outputs      minutesOutputs     `json:"outputs"`
	Metadata     minutesMetadata    `json:"metadata"`
}

type assembleMinutesInput struct {
	RunID string `path:"id" doc:"Run id; its transcript is used unless transcript is supplied directly"`
	Body  struct {
		Transcript         string `json:"transcript,omitempty" doc:"Overrides the run's own merged transcript when set"`
		TemplateCategory   string `json:"template_category,omitempty" doc:"One of general, meeting, interview, presentation, brainstorm, custom"`
		CustomTemplateBody string `json:"custom_template_body,omitempty" doc:"Required when template_category is custom"`
		CustomSuffix       string `json:"custom_suffix,omitempty"`
		ChatModel          string `json:"chat_model,omitempty"`
		SummaryModel       string `json:"summary_model,omitempty"`
	}
}

type assembleMinutesResponse struct {
	Body struct {
		Success bool           `json:"success"`
		Minutes *minutesOutput `json:"minutes,omitempty"`
		Error   string         `json:"error,omitempty"`
	}
}

func createAssembleMinutesHdlr(s *Server) func(ctx context.Context, in *assembleMinutesInput) (*assembleMinutesResponse, error) {
	return func(ctx context.Context, in *assembleMinutesInput) (*assembleMinutesResponse, error) {
		r, ok := s.runs.get(in.RunID)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("unknown run %q", in.RunID))
		}

		transcript := in.Body.Transcript
		if transcript == "" {
			r.mu.Lock()
			transcript = r.Transcript.Text
			r.mu.Unlock()
		}
		if transcript == "" {
			return nil, huma.Error422UnprocessableEntity("no transcript available for this run")
		}

		tmpl := resolveTemplate(in.Body.TemplateCategory, in.Body.CustomTemplateBody)

		chatModel := in.Body.ChatModel
		if chatModel == "" {
			chatModel = s.Cfg.ChatModel
		}
		summaryModel := in.Body.SummaryModel
		if summaryModel == "" {
			summaryModel = s.Cfg.SummaryModel
		}

		res, err := s.runMinutesAssembly(ctx, r, transcript, tmpl, in.Body.CustomSuffix, minutes.Options{ChatModel: chatModel, SummaryModel: summaryModel})
		if err != nil {
			r.setErr(classify(err))
			return nil, toHumaErr(err)
		}

		resp := &assembleMinutesResponse{}
		resp.Body.Success = true
		resp.Body.Minutes = toMinutesOutput(res, chatModel)
		return resp, nil
	}
}

func resolveTemplate(category, customBody string) prompts.Template {
	if category == string(prompts.CategoryCustom) || customBody != "" {
		return prompts.Custom("custom", customBody, nil)
	}
	return prompts.ByCategory(prompts.Category(category))
}

func toMinutesOutput(res minutes.Result, model string) *minutesOutput {
	word := res.WordDocBase64
	if res.WordFailed {
		word = wordFailureMarker
	}
	items := make([]actionItemOutput, 0, len(res.ActionItems))
	for _, it := range res.ActionItems {
		items = append(items, actionItemOutput{Task: it.Text, Assignee: it.Assignee, DueDate: it.DueDate})
	}
	return &minutesOutput{
		Title:        res.Title,
		Participants: res.Participants,
		Summary:      res.Summary,
		KeyPoints:    res.KeyPoints,
		ActionItems:  items,
		Outputs:      minutesOutputs{Markdown: res.Markdown, HTML: res.HTML, Word: word},
		Metadata:     minutesMetadata{Model: model, GeneratedAt: nowRFC3339()},
	}
}

// --- run cleanup ---

type runIDInput struct {
	RunID string `path:"id"`
}

func createCleanupRunHdlr(s *Server) func(ctx context.Context, in *runIDInput) (*cleanupResponse, error) {
	return func(ctx context.Context, in *runIDInput) (*cleanupResponse, error) {
		s.runs.cancelRun(in.RunID)
		s.runs.remove(in.RunID)
		_ = s.store.CleanupRun(in.RunID)
		resp := &cleanupResponse{}
		resp.Body.Success = true
		return resp, nil
	}
}

// createRouteAPI registers the huma-documented REST surface for every
// stable verb in spec.md §6, mounted at /api.
func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("MinutesGen core API", "1.0.0")
		config.Servers = []*huma.Server{{URL: "/api"}}
		config.Info.Description = "Chunked intake, media segmentation, transcription, and minutes assembly for the MinutesGen core pipeline."

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "initialize", Method: http.MethodPost, Path: "/initialize",
			Summary: "Prepare the binary manager", Tags: []string{"lifecycle"},
		}, createInitializeHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "save-file-to-temp", Method: http.MethodPost, Path: "/intake/direct",
			Summary: "Single-shot upload for small inputs", Tags: []string{"intake"},
			Errors: []int{413, 422},
		}, createDirectUploadHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "start-chunked-upload", Method: http.MethodPost, Path: "/intake/sessions",
			Summary: "Begin a chunked upload session", Tags: []string{"intake"},
		}, createStartUploadHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "upload-chunk", Method: http.MethodPost, Path: "/intake/sessions/{sessionId}/chunks/{index}",
			Summary: "Upload one chunk", Tags: []string{"intake"},
			Errors: []int{400, 404, 409, 422},
		}, createUploadChunkHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "finalize-chunked-upload", Method: http.MethodPost, Path: "/intake/sessions/{sessionId}/finalize",
			Summary: "Concatenate chunks into the assembled file", Tags: []string{"intake"},
			Errors: []int{404, 422},
		}, createFinalizeUploadHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "cleanup-chunked-upload", Method: http.MethodDelete, Path: "/intake/sessions/{sessionId}",
			Summary: "Release a session's resources", Tags: []string{"intake"},
		}, createCleanupUploadHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "process-file-by-path", Method: http.MethodPost, Path: "/segmentation/runs",
			Summary: "Probe, normalize, and segment an input file", Tags: []string{"segmentation"},
			Errors: []int{422, 500},
		}, createProcessFileHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "read-segment-file", Method: http.MethodGet, Path: "/segmentation/runs/{id}/segments/{name}",
			Summary: "Read one emitted segment's bytes", Tags: []string{"segmentation"},
			Errors: []int{404, 500},
		}, createReadSegmentHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "transcribe-run", Method: http.MethodPost, Path: "/transcription/runs/{id}",
			Summary: "Submit a run's segments to the ASR endpoint", Tags: []string{"transcription"},
			Errors: []int{404, 422, 500},
		}, createTranscribeRunHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "assemble-minutes", Method: http.MethodPost, Path: "/minutes/runs/{id}",
			Summary: "Generate structured minutes from a run's transcript", Tags: []string{"minutes"},
			Errors: []int{404, 422, 500},
		}, createAssembleMinutesHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "cleanup-run", Method: http.MethodDelete, Path: "/runs/{id}",
			Summary: "Cancel and release every artifact owned by a run", Tags: []string{"lifecycle"},
		}, createCleanupRunHdlr(s))
	}
}
