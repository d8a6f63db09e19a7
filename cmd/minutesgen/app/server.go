package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mtokuhisa/minutesgen/pkg/binarymanager"
	"github.com/mtokuhisa/minutesgen/pkg/intake"
	"github.com/mtokuhisa/minutesgen/pkg/minutes"
	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
	"github.com/mtokuhisa/minutesgen/pkg/segmentstore"
	"github.com/mtokuhisa/minutesgen/pkg/transcription"
)

// Server holds every long-lived collaborator the host process wires at
// startup: router, config, and one instance of each core component.
type Server struct {
	Router *chi.Mux
	Cfg    *ServerConfig

	binMgr         *binarymanager.Manager
	store          *segmentstore.Store
	intakeRegistry *intake.Registry
	segEngine      *segmentation.Engine
	transcriber    *transcription.Orchestrator
	assembler      *minutes.Assembler

	runs     *runRegistry
	progress *progressHub
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]bool{"success": true}, http.StatusOK)
}

// jsonResponse marshals message and writes response with code.
//
// Don't add any more content after this since Content-Length is set.
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, fmt.Sprintf("{\"message\": %q}", err.Error()), http.StatusInternalServerError)
		slog.Error(err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(code)
	if _, err = w.Write(raw); err != nil {
		slog.Error("could not write HTTP response", "err", err)
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
