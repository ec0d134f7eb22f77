package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"eda2power/internal/safety"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors past this point cannot be reported to the client;
	// the status line is already gone.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeBody parses a JSON request body into dst. An empty body is
// allowed and leaves dst zero-valued.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// remoteHost strips the ephemeral port for audit entries.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// audit writes one audit entry, if audit logging is enabled.
func (s *Server) audit(r *http.Request, op string, outputs []string, result string, start time.Time) {
	if s.auditLog == nil {
		return
	}
	err := s.auditLog.Log(safety.AuditEntry{
		Timestamp: time.Now().UTC(),
		Op:        op,
		Remote:    remoteHost(r),
		Outputs:   outputs,
		Result:    result,
		Duration:  time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.log.Warn("audit log write failed", zap.Error(err))
	}
}
