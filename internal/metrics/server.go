package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics and /healthz
type Server struct {
	server   *http.Server
	recorder *Recorder
	logger   *zap.Logger
}

type healthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	LastPoll  string `json:"last_poll,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewServer creates a new metrics server
func NewServer(addr string, gatherer prometheus.Gatherer, recorder *Recorder, logger *zap.Logger) *Server {
	s := &Server{
		recorder: recorder,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.recorder.Snapshot()

	resp := healthResponse{
		Status:    "ok",
		State:     snap.State.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !snap.LastPollAt.IsZero() {
		resp.LastPoll = snap.LastPollAt.UTC().Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if snap.LastPollErr != nil {
		resp.Status = "degraded"
		resp.LastError = snap.LastPollErr.Error()
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server starting", zap.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
