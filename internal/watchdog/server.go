package watchdog

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Status is the JSON body served at /healthz.
type Status struct {
	EngineUID string   `json:"engine_uid"`
	Uptime    string   `json:"uptime"`
	Resources Snapshot `json:"resources"`
}

// Server exposes a minimal HTTP status surface backed by a Sampler.
type Server struct {
	http      *http.Server
	engineUID string
	startedAt time.Time
	sampler   *Sampler
}

// NewServer builds a Server bound to addr, reporting engineUID and
// sampler's readings at GET /healthz.
func NewServer(addr, engineUID string, sampler *Sampler, log zerolog.Logger) *Server {
	s := &Server{
		engineUID: engineUID,
		startedAt: time.Now(),
		sampler:   sampler,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := Status{
		EngineUID: s.engineUID,
		Uptime:    time.Since(s.startedAt).String(),
		Resources: s.sampler.Last(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// ListenAndServe blocks serving until ctx is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
