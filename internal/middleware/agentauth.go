package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"vizflow/internal/compute"
)

// DefaultMaxBodyBytes bounds signed request bodies.
const DefaultMaxBodyBytes = 8 << 20

// AgentAuthConfig configures AgentAuth.
type AgentAuthConfig struct {
	Token        string
	MaxSkew      time.Duration
	MaxBodyBytes int64
	Now          func() time.Time
	Logger       *slog.Logger
}

// AgentAuth rejects requests whose agent token, timestamp or signature do
// not verify. The body is read once for the digest and replayed to next.
func AgentAuth(cfg AgentAuthConfig) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = compute.DefaultSignatureSkew
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes))
				if err != nil {
					writeAgentError(w, r, http.StatusRequestEntityTooLarge, compute.CodeParse, "request body too large or unreadable")
					return
				}
			}
			if err := compute.VerifySignedAgentHeaders(r, cfg.Token, body, cfg.Now(), cfg.MaxSkew); err != nil {
				cfg.Logger.Warn("agent request rejected",
					"path", r.URL.Path, "remote", clientIP(r),
					"request_id", RequestIDFromContext(r.Context()), "error", err)
				writeAgentError(w, r, http.StatusUnauthorized, compute.CodeAuth, "unauthorized")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func writeAgentError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(compute.ErrorResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
