package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
	"Mansoor88-6/aw-sync-agent/internal/service"
)

// CycleSource exposes the orchestrator's live state
type CycleSource interface {
	Phase() service.Phase
	LastReport() *service.CycleReport
}

// StateLoader reads the persisted checkpoint
type StateLoader interface {
	Load(ctx context.Context) (models.SyncState, error)
}

// StatusServer answers local health and status queries
type StatusServer struct {
	cycles CycleSource
	state  StateLoader
	logger *zap.Logger
}

// NewStatusServer creates a new status server
func NewStatusServer(cycles CycleSource, state StateLoader, logger *zap.Logger) *StatusServer {
	return &StatusServer{
		cycles: cycles,
		state:  state,
		logger: logger,
	}
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Phase      service.Phase        `json:"phase"`
	State      models.SyncState     `json:"state"`
	LastReport *service.CycleReport `json:"last_report,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
}

// HandleHealth provides a health check endpoint
func (s *StatusServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"phase":     s.cycles.Phase(),
		"timestamp": time.Now().Unix(),
	})
}

// HandleStatus reports the checkpoint and the last cycle
func (s *StatusServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := s.state.Load(r.Context())
	if err != nil {
		s.logger.Warn("Failed to load sync state", zap.Error(err))
		http.Error(w, "Failed to load sync state", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{
		Phase:      s.cycles.Phase(),
		State:      state,
		LastReport: s.cycles.LastReport(),
	}
	if resp.LastReport != nil && resp.LastReport.Err != nil {
		resp.LastError = resp.LastReport.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves handler on the loopback interface until ctx is done
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
