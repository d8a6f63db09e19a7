package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mtokuhisa/minutesgen/pkg/logging"
)

// Routes defines dispatches for all non-huma routes. The documented REST
// surface is mounted separately at /api via createRouteAPI, since huma's
// typed-operation model doesn't suit the SSE progress stream here.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/debug", middleware.Profiler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	s.Router.MethodFunc("GET", "/api/progress/{id}", s.progressHandlerFunc)
	s.Router.MethodFunc("OPTIONS", "/*", s.optionsHandlerFunc)

	return nil
}

func (s *Server) optionsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
