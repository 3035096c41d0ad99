package httpx

import (
	"net/http"

	"github.com/leadforge/leadforge/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	registerJobRoutes(mux, jobHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("POST /process", h.Process)
	mux.HandleFunc("GET /progress", h.Progress)
	mux.HandleFunc("GET /download", h.Download)
	mux.HandleFunc("GET /stats", h.Stats)
}
