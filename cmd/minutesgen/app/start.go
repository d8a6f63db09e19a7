package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtokuhisa/minutesgen/internal"
	"github.com/mtokuhisa/minutesgen/pkg/binarymanager"
	"github.com/mtokuhisa/minutesgen/pkg/intake"
	"github.com/mtokuhisa/minutesgen/pkg/logging"
	"github.com/mtokuhisa/minutesgen/pkg/minutes"
	"github.com/mtokuhisa/minutesgen/pkg/segmentation"
	"github.com/mtokuhisa/minutesgen/pkg/segmentstore"
	"github.com/mtokuhisa/minutesgen/pkg/transcription"
)

// SetupServer sets up router, middleware, and core components, given koanf
// configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	logger := slog.Default()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(logger))
	r.Use(middleware.Recoverer)
	r.Use(NewPrometheusMiddleware())
	r.Use(addVersionAndCORSHeaders)

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	r.Mount("/metrics", promhttp.Handler())

	bins := binarymanager.New(cfg.AppName, cfg.TranscoderSourceDir, cfg.TranscoderBinary)
	store := segmentstore.New(cfg.TempRoot, cfg.AppName)
	intakeRegistry := intake.NewRegistry(store, cfg.UploadChunkBytes)
	segEngine := segmentation.New(bins)
	transcriber := transcription.New(cfg.ASRBaseURL, cfg.ASRAPIKey)
	assembler := minutes.New(cfg.ChatBaseURL, cfg.ChatAPIKey)

	server := Server{
		Router:         r,
		Cfg:            cfg,
		binMgr:         bins,
		store:          store,
		intakeRegistry: intakeRegistry,
		segEngine:      segEngine,
		transcriber:    transcriber,
		assembler:      assembler,
		runs:           newRunRegistry(),
		progress:       newProgressHub(),
	}

	r.Route("/api", createRouteAPI(&server))

	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	if cfg.OrphanReapAgeS > 0 {
		go func() {
			if err := store.ReapOrphans(time.Duration(cfg.OrphanReapAgeS) * time.Second); err != nil {
				logger.Warn("reap orphaned intake sessions", "err", err)
			}
		}()
	}

	logger.Info("minutesgen starting", "version", internal.GetVersion(), "port", cfg.Port)
	return &server, nil
}
