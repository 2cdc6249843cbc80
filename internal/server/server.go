package server

import (
	"log/slog"
	"net/http"

	"churn-dashboard/internal/handlers"
	"churn-dashboard/internal/services"
)

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(analytics *services.Analytics, qa handlers.QA, opts handlers.APIOptions, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	api := handlers.NewAPIHandlers(analytics, qa, opts, logger)
	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger,
		apiHandlers: api,
		sseHandlers: handlers.NewSSEHandlers(api, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)

	// REST API
	s.mux.HandleFunc("POST /api/datasets", s.apiHandlers.HandleUpload)
	s.mux.HandleFunc("GET /api/datasets", s.apiHandlers.HandleListDatasets)
	s.mux.HandleFunc("GET /api/datasets/{id}", s.apiHandlers.HandleDataset)
	s.mux.HandleFunc("GET /api/datasets/{id}/tables/{table}", s.apiHandlers.HandleTable)
	s.mux.HandleFunc("GET /api/datasets/{id}/tables/{table}/csv", s.apiHandlers.HandleTableCSV)
	s.mux.HandleFunc("POST /api/datasets/{id}/ask", s.apiHandlers.HandleAsk)

	// Datastar SSE
	s.mux.HandleFunc("GET /sse/datasets/{id}/tables", s.sseHandlers.HandleTables)
	s.mux.HandleFunc("GET /sse/datasets/{id}/ask", s.sseHandlers.HandleAsk)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
