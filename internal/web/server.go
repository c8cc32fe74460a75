package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/nhle/otp-forwarder/internal/deliver"
	"github.com/nhle/otp-forwarder/internal/poll"
)

// Server exposes the operational HTTP surface: a liveness probe and a
// JSON status snapshot of the pipeline.
type Server struct {
	addr  string
	loop  *poll.Loop
	queue *deliver.Queue
}

// NewServer creates the status server. addr is the listen address.
func NewServer(addr string, loop *poll.Loop, queue *deliver.Queue) *Server {
	return &Server{addr: addr, loop: loop, queue: queue}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.loop.Status()
	delivered, failed := s.queue.Stats()

	payload := struct {
		Poll       poll.Status `json:"poll"`
		Delivered  uint64      `json:"delivered"`
		Failed     uint64      `json:"terminal_failures"`
		QueueDepth int         `json:"queue_depth"`
	}{
		Poll:       st,
		Delivered:  delivered,
		Failed:     failed,
		QueueDepth: s.queue.Depth(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to encode status response")
	}
}
