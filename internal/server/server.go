package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cooldown"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/dispatch"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/ratelimit"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
)

// Dispatcher runs cycles and test notifications on demand.
type Dispatcher interface {
	RunCycle(ctx context.Context) (*dispatch.Summary, error)
	Running() bool
	SendTest(ctx context.Context, userID string) (*dispatch.TestResult, error)
}

// LimiterView exposes the weather request budget.
type LimiterView interface {
	Stats() ratelimit.Stats
	Limits() ratelimit.Limits
}

// Registry is the part of storage the API writes to.
type Registry interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) error
	RegisterDevice(ctx context.Context, device *model.Device) error
	UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64, device *model.Device) error
	Ping(ctx context.Context) error
}

// CooldownLister lists cooldown entries.
type CooldownLister interface {
	List(ctx context.Context, recipientID string) ([]cooldown.Entry, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Dispatcher   Dispatcher
	Limiter      LimiterView
	Registry     Registry
	Cooldowns    CooldownLister
	CycleTimeout time.Duration
}

// Server provides the health, dispatch and device registration API.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if deps.CycleTimeout <= 0 {
		deps.CycleTimeout = 8 * time.Minute
	}
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/dispatch", s.handleDispatch)
	s.mux.HandleFunc("GET /api/v1/limiter", s.handleLimiter)
	s.mux.HandleFunc("POST /api/v1/devices", s.handleRegisterDevice)
	s.mux.HandleFunc("POST /api/v1/location", s.handleLocation)
	s.mux.HandleFunc("GET /api/v1/cooldowns", s.handleCooldowns)
	s.mux.HandleFunc("POST /api/v1/users/{id}/test", s.handleTestNotification)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// WriteTimeout returns configured, raised when needed so a manual dispatch
// can write its summary after running for the full cycle timeout.
func (s *Server) WriteTimeout(configured time.Duration) time.Duration {
	need := s.deps.CycleTimeout + 30*time.Second
	if configured < need {
		return need
	}
	return configured
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Registry.Ping(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"cycle_running": s.deps.Dispatcher.Running(),
	})
}

// handleDispatch runs a cycle synchronously. The cycle is detached from the
// client connection so a disconnect does not abandon it.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.deps.CycleTimeout)
	defer cancel()

	summary, err := s.deps.Dispatcher.RunCycle(ctx)
	if errors.Is(err, dispatch.ErrCycleRunning) {
		http.Error(w, "dispatch cycle already running", http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Error("manual dispatch", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleLimiter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"limits": s.deps.Limiter.Limits(),
		"stats":  s.deps.Limiter.Stats(),
	})
}

type deviceRequest struct {
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Token == "" {
		http.Error(w, "user_id and token are required", http.StatusBadRequest)
		return
	}

	if err := s.ensureUser(ctx, req.UserID); err != nil {
		s.logger.Error("ensure user", "user_id", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	device := &model.Device{UserID: req.UserID, Token: req.Token, Platform: req.Platform}
	if err := s.deps.Registry.RegisterDevice(ctx, device); err != nil {
		s.logger.Error("register device", "user_id", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

// ensureUser creates a bare user row on first registration without touching
// an existing user's fields.
func (s *Server) ensureUser(ctx context.Context, id string) error {
	_, err := s.deps.Registry.GetUser(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.deps.Registry.UpsertUser(ctx, &model.User{ID: id})
}

type locationRequest struct {
	UserID    string   `json:"user_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Token     string   `json:"token"`
	Platform  string   `json:"platform"`
}

func (r locationRequest) validate() error {
	if r.UserID == "" || r.Latitude == nil || r.Longitude == nil {
		return errors.New("user_id, latitude and longitude are required")
	}
	if *r.Latitude < -90 || *r.Latitude > 90 {
		return fmt.Errorf("latitude %g out of range", *r.Latitude)
	}
	if *r.Longitude < -180 || *r.Longitude > 180 {
		return fmt.Errorf("longitude %g out of range", *r.Longitude)
	}
	return nil
}

// handleLocation stores the raw coordinates reported by a device in the
// background. Rounding happens only when clustering.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var device *model.Device
	if req.Token != "" {
		device = &model.Device{Token: req.Token, Platform: req.Platform}
	}
	err := s.deps.Registry.UpdateUserLocation(ctx, req.UserID, *req.Latitude, *req.Longitude, device)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("update location", "user_id", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("location updated", "user_id", req.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	entries, err := s.deps.Cooldowns.List(ctx, r.URL.Query().Get("recipient"))
	if err != nil {
		s.logger.Error("list cooldowns", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	userID := r.PathValue("id")
	res, err := s.deps.Dispatcher.SendTest(ctx, userID)
	if errors.Is(err, dispatch.ErrNoDevices) {
		http.Error(w, "no devices registered for user", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("test notification", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
