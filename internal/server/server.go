// Package server exposes the power controller over a JSON HTTP API on
// the historical EDA2 control port. All routes live under /api/v1; every
// route except ping requires a bearer token.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"eda2power/internal/controller"
	"eda2power/internal/output"
	"eda2power/internal/safety"
	"eda2power/internal/telemetry"
)

// shutdownDelay gives the reboot/shutdown HTTP response time to reach
// the client before the outputs drop and the command runs.
const shutdownDelay = 2 * time.Second

// History is the slice of the telemetry store the API reads.
// *telemetry.Store implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]telemetry.Reading, error)
	RecentEnv(ctx context.Context, limit int) ([]telemetry.EnvSample, error)
}

var _ History = (*telemetry.Store)(nil)

// Options configures a Server.
type Options struct {
	Power    controller.Power
	History  History // nil disables the telemetry route
	Filter   *safety.Filter
	AuditLog *safety.AuditLogger // nil disables audit logging
	Token    string
	Logger   *zap.Logger

	// SystemCmd runs the host reboot/shutdown command. Left nil, the
	// production sudo commands are used. Tests inject a recorder.
	SystemCmd func(ctx context.Context, op string) error
}

// Server is the HTTP API for one power control unit.
type Server struct {
	power    controller.Power
	history  History
	auditLog *safety.AuditLogger
	confirm  *safety.ConfirmationTracker
	log      *zap.Logger

	mu     sync.RWMutex
	filter *safety.Filter

	systemCmd func(ctx context.Context, op string) error
	handler   http.Handler
}

// New builds a Server and its route table.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		power:     opts.Power,
		history:   opts.History,
		auditLog:  opts.AuditLog,
		confirm:   safety.NewConfirmationTracker(),
		log:       log,
		filter:    opts.Filter,
		systemCmd: opts.SystemCmd,
	}
	if s.filter == nil {
		s.filter = safety.NewFilter(nil, nil)
	}
	if s.systemCmd == nil {
		s.systemCmd = runSystemCmd
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ping", s.handlePing)

	authed := http.NewServeMux()
	authed.HandleFunc("GET /api/v1/version", s.handleVersion)
	authed.HandleFunc("GET /api/v1/outputs", s.handleStatus)
	authed.HandleFunc("GET /api/v1/environment", s.handleEnvironment)
	authed.HandleFunc("GET /api/v1/telemetry/recent", s.handleTelemetry)
	authed.HandleFunc("POST /api/v1/outputs/on", s.handleOn)
	authed.HandleFunc("POST /api/v1/outputs/off", s.handleOff)
	authed.HandleFunc("POST /api/v1/outputs/state", s.handleState)
	authed.HandleFunc("POST /api/v1/outputs/all/on", s.handleAllOn)
	authed.HandleFunc("POST /api/v1/outputs/all/off", s.handleAllOff)
	authed.HandleFunc("POST /api/v1/system/reboot", s.handleReboot)
	authed.HandleFunc("POST /api/v1/system/shutdown", s.handleShutdown)
	mux.Handle("/api/v1/", requireAuth(opts.Token, log, authed))

	s.handler = logRequests(log, mux)
	return s
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// UpdateFilter swaps the switchable-output filter, used on config
// reload.
func (s *Server) UpdateFilter(f *safety.Filter) {
	if f == nil {
		f = safety.NewFilter(nil, nil)
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *Server) currentFilter() *safety.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Run serves the API until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", listen))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read handlers
// ---------------------------------------------------------------------------

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{Pong: true})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.power.Version()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	readings, err := s.power.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read status: %v", err))
		return
	}
	resp := StatusResponse{Outputs: make(map[string]controller.Reading, len(readings))}
	for n, rd := range readings {
		resp.Outputs[string(n)] = rd
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.power.Environment(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read environment: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, EnvironmentResponse{
		Humidity:    env.Humidity,
		Temperature: env.Temperature,
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "telemetry archive not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	readings, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read telemetry: %v", err))
		return
	}
	env, err := s.history.RecentEnv(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read telemetry: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, TelemetryResponse{Readings: readings, Environment: env})
}

// ---------------------------------------------------------------------------
// Switching handlers
// ---------------------------------------------------------------------------

// resolveSwitchRequest expands the request's name specs and partitions
// them by the switchable filter. Locked outputs come back as failed
// results rather than an error, so one locked name does not block the
// rest of a batch.
func (s *Server) resolveSwitchRequest(r *http.Request) (allowed []output.Name, locked []controller.SwitchResult, err error) {
	var req SwitchRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, nil, fmt.Errorf("bad request body: %w", err)
	}
	if len(req.Outputs) == 0 {
		return nil, nil, fmt.Errorf("no outputs named")
	}

	names, err := output.ExpandSpecs(req.Outputs)
	if err != nil {
		return nil, nil, err
	}

	filter := s.currentFilter()
	for _, n := range names {
		if filter.IsSwitchable(string(n)) {
			allowed = append(allowed, n)
		} else {
			locked = append(locked, controller.SwitchResult{
				Output: string(n),
				OK:     false,
				Error:  "output is locked by configuration",
			})
		}
	}
	return allowed, locked, nil
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request, op string,
	do func(ctx context.Context, names []output.Name) []controller.SwitchResult) {

	start := time.Now()
	allowed, locked, err := s.resolveSwitchRequest(r)
	if err != nil {
		s.audit(r, op, nil, fmt.Sprintf("rejected: %v", err), start)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := do(r.Context(), allowed)
	results = append(results, locked...)

	outcome := "ok"
	for _, res := range results {
		if !res.OK {
			outcome = "partial"
			break
		}
	}
	s.audit(r, op, output.Strings(allowed), outcome, start)
	writeJSON(w, http.StatusOK, SwitchResponse{Results: results})
}

func (s *Server) handleOn(w http.ResponseWriter, r *http.Request) {
	s.handleSwitch(w, r, "outputs_on", s.power.TurnOn)
}

func (s *Server) handleOff(w http.ResponseWriter, r *http.Request) {
	s.handleSwitch(w, r, "outputs_off", s.power.TurnOff)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if len(req.Outputs) == 0 {
		writeError(w, http.StatusBadRequest, "no outputs named")
		return
	}

	names, err := output.ExpandSpecs(req.Outputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	states := s.power.IsOn(names)
	resp := StateResponse{States: make(map[string]bool, len(states))}
	for n, on := range states {
		resp.States[string(n)] = on
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAllOn(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// All-on honours the filter: expand to every output and drop the
	// locked ones.
	filter := s.currentFilter()
	var names []output.Name
	for _, n := range output.All() {
		if filter.IsSwitchable(string(n)) {
			names = append(names, n)
		}
	}

	results := s.power.TurnOn(r.Context(), names)
	outcome := "ok"
	for _, res := range results {
		if !res.OK {
			outcome = "partial"
			break
		}
	}
	s.audit(r, "all_on", output.Strings(names), outcome, start)
	writeJSON(w, http.StatusOK, SwitchResponse{Results: results})
}

func (s *Server) handleAllOff(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// All-off is the safety path and ignores the filter.
	if err := s.power.AllOff(r.Context()); err != nil {
		s.audit(r, "all_off", nil, fmt.Sprintf("failed: %v", err), start)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("all off: %v", err))
		return
	}
	s.audit(r, "all_off", nil, "ok", start)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// ---------------------------------------------------------------------------
// System handlers
// ---------------------------------------------------------------------------

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	s.handleSystem(w, r, "reboot",
		"reboot will DISCONNECT the control computer and drop all 32 outputs")
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.handleSystem(w, r, "shutdown",
		"shutdown requires a SITE VISIT to restore power control")
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request, op, warning string) {
	start := time.Now()

	var req SystemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad request body: %v", err))
		return
	}

	if req.ConfirmToken == "" {
		token := s.confirm.Request(op)
		s.audit(r, op, nil, "confirmation issued", start)
		writeJSON(w, http.StatusAccepted, ConfirmationResponse{
			ConfirmationRequired: true,
			ConfirmToken:         token,
			Warning:              warning,
		})
		return
	}

	if !s.confirm.Confirm(op, req.ConfirmToken) {
		s.audit(r, op, nil, "invalid confirmation token", start)
		writeError(w, http.StatusForbidden, "confirmation token is invalid or expired")
		return
	}

	// Outputs off first; the PSU must not be left driving antennas
	// with nobody home.
	if err := s.power.AllOff(r.Context()); err != nil {
		s.audit(r, op, nil, fmt.Sprintf("all off failed: %v", err), start)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("all off before %s: %v", op, err))
		return
	}

	s.audit(r, op, nil, "confirmed", start)
	s.log.Warn("system command confirmed", zap.String("op", op), zap.String("remote", remoteHost(r)))
	writeJSON(w, http.StatusOK, OKResponse{OK: true})

	go func() {
		time.Sleep(shutdownDelay)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.systemCmd(ctx, op); err != nil {
			s.log.Error("system command failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

// runSystemCmd executes the host power command. The daemon runs as an
// unprivileged user with sudoers entries for exactly these two
// commands.
func runSystemCmd(ctx context.Context, op string) error {
	var cmd *exec.Cmd
	switch op {
	case "reboot":
		cmd = exec.CommandContext(ctx, "sudo", "reboot")
	case "shutdown":
		cmd = exec.CommandContext(ctx, "sudo", "shutdown", "-h", "now")
	default:
		return fmt.Errorf("unknown system op %q", op)
	}
	return cmd.Run()
}
