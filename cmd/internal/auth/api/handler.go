// Package authapi wires the credential and session services to HTTP.
//
// Endpoints:
//
//	POST /auth/guardian/login
//	POST /auth/dependent/login
//	POST /auth/refresh
//	POST /auth/logout
//	GET  /auth/validate
//	POST /auth/sessions/terminate
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"perch/cmd/identity"
	"perch/cmd/internal/auth/guard"
	"perch/cmd/internal/auth/session"
	"perch/cmd/internal/metrics"
)

// credentialVerifier verifies submitted credentials against stored hashes.
type credentialVerifier interface {
	VerifyGuardian(ctx context.Context, email, password string) (identity.Guardian, error)
	VerifyDependent(ctx context.Context, username, pin string) (identity.Dependent, error)
}

// sessionService is the write side of the session subsystem.
type sessionService interface {
	Open(ctx context.Context, now time.Time, p identity.Principal, deviceInfo string) (session.Issued, error)
	Refresh(ctx context.Context, now time.Time, refreshToken string) (session.Issued, error)
	Logout(ctx context.Context, now time.Time, sessionID, accessToken string, accessExp time.Time) error
	TerminateOwned(ctx context.Context, now time.Time, sessionID, guardianID string) error
}

// sessionMonitor is the read side: token validation and activity tracking.
type sessionMonitor interface {
	Validate(ctx context.Context, token string, now time.Time) (session.AccessClaims, error)
	Touch(ctx context.Context, claims session.AccessClaims, now time.Time) error
}

// attemptGuard is the brute-force lockout check.
type attemptGuard interface {
	Check(ctx context.Context, now time.Time, identifier, ip string) error
	RecordFailure(ctx context.Context, now time.Time, identifier, ip, reason string) error
	RecordSuccess(ctx context.Context, identifier string) error
}

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	verifier credentialVerifier
	sessions sessionService
	monitor  sessionMonitor
	guard    attemptGuard
	audit    *Auditor
}

// NewHandler constructs an auth Handler. audit may be nil.
func NewHandler(log *slog.Logger, cfg Config, verifier credentialVerifier, sessions sessionService, monitor sessionMonitor, g attemptGuard, audit *Auditor) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if audit == nil {
		audit = NewAuditor(log, nil, false)
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		verifier: verifier,
		sessions: sessions,
		monitor:  monitor,
		guard:    g,
		audit:    audit,
	}
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/guardian/login", h.handleGuardianLogin)
	mux.HandleFunc("/auth/dependent/login", h.handleDependentLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/validate", h.handleValidate)
	mux.HandleFunc("/auth/sessions/terminate", h.handleTerminate)
}

func (h *Handler) handleGuardianLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req guardianLoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	h.login(w, r, "guardian", identity.NormalizeEmail(req.Email), func(ctx context.Context) (identity.Principal, error) {
		g, err := h.verifier.VerifyGuardian(ctx, req.Email, req.Password)
		if err != nil {
			return identity.Principal{}, err
		}
		return identity.GuardianPrincipal(g), nil
	})
}

func (h *Handler) handleDependentLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req dependentLoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	h.login(w, r, "dependent", identity.NormalizeUsername(req.Username), func(ctx context.Context) (identity.Principal, error) {
		d, err := h.verifier.VerifyDependent(ctx, req.Username, req.PIN)
		if err != nil {
			return identity.Principal{}, err
		}
		return identity.DependentPrincipal(d), nil
	})
}

// login is the shared tail of both login endpoints: lockout check, credential
// verification, session open.
func (h *Handler) login(w http.ResponseWriter, r *http.Request, role, identifier string, verify func(context.Context) (identity.Principal, error)) {
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "credentials are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	if err := h.guard.Check(ctx, now, identifier, ip); err != nil {
		var lockout *guard.LockoutError
		if errors.As(err, &lockout) {
			metrics.LoginAttempts.WithLabelValues(role, "locked_out").Inc()
			h.audit.loginLockedOut(ctx, role, identifier, ip, lockout.RetryAfter)
			writeLockedOut(w, lockout.RetryAfter)
			return
		}
		h.log.ErrorContext(ctx, "auth.login.guard.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	p, err := verify(ctx)
	if err != nil {
		switch {
		case identity.IsInvalidCredentials(err):
			if rerr := h.guard.RecordFailure(ctx, now, identifier, ip, "invalid_credentials"); rerr != nil {
				h.log.ErrorContext(ctx, "auth.login.record_failure.fail", "err", rerr)
			}
			metrics.LoginAttempts.WithLabelValues(role, "invalid_credentials").Inc()
			h.audit.loginFailed(ctx, role, identifier, ip, "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case identity.IsAccountInactive(err):
			metrics.LoginAttempts.WithLabelValues(role, "inactive").Inc()
			h.audit.loginFailed(ctx, role, identifier, ip, "account_inactive")
			writeError(w, http.StatusForbidden, "account_inactive", "account is deactivated")
		default:
			h.log.ErrorContext(ctx, "auth.login.verify.fail", "err", err)
			metrics.LoginAttempts.WithLabelValues(role, "error").Inc()
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	if err := h.guard.RecordSuccess(ctx, identifier); err != nil {
		h.log.ErrorContext(ctx, "auth.login.record_success.fail", "err", err)
	}

	issued, err := h.sessions.Open(ctx, now, p, r.UserAgent())
	if err != nil {
		h.log.ErrorContext(ctx, "auth.login.open_session.fail", "err", err)
		metrics.LoginAttempts.WithLabelValues(role, "error").Inc()
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.LoginAttempts.WithLabelValues(role, "success").Inc()
	h.audit.loginSuccess(ctx, role, p.ID(), issued.SessionID, ip)

	writeJSON(w, http.StatusOK, loginResponse{
		Principal: principalResponse{
			ID:         p.ID(),
			Role:       role,
			GuardianID: p.OwnerGuardianID(),
		},
		Session: toSessionResponse(issued, now),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	issued, err := h.sessions.Refresh(ctx, now, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenExpired):
			metrics.RefreshAttempts.WithLabelValues("expired").Inc()
			h.audit.refreshRejected(ctx, ip, "token_expired")
			writeError(w, http.StatusUnauthorized, "token_expired", "refresh token expired")
		case errors.Is(err, session.ErrInvalidToken):
			metrics.RefreshAttempts.WithLabelValues("invalid").Inc()
			h.audit.refreshRejected(ctx, ip, "invalid_token")
			writeError(w, http.StatusUnauthorized, "invalid_token", "refresh token not recognized")
		case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionInvalid), errors.Is(err, session.ErrSessionNotFound):
			metrics.RefreshAttempts.WithLabelValues("session_expired").Inc()
			h.audit.refreshRejected(ctx, ip, "session_not_active")
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		case identity.IsAccountInactive(err):
			metrics.RefreshAttempts.WithLabelValues("inactive").Inc()
			h.audit.refreshRejected(ctx, ip, "account_inactive")
			writeError(w, http.StatusForbidden, "account_inactive", "account is deactivated")
		default:
			h.log.ErrorContext(ctx, "auth.refresh.fail", "err", err)
			metrics.RefreshAttempts.WithLabelValues("error").Inc()
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	metrics.RefreshAttempts.WithLabelValues("success").Inc()
	h.audit.refreshSuccess(ctx, "", issued.SessionID, ip)

	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued, now)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.Logout(ctx, now, claims.SessionID, bearerToken(r), claims.ExpiresAt); err != nil {
		h.log.ErrorContext(ctx, "auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.SessionsClosed.WithLabelValues(session.EndReasonRevokedLogout).Inc()
	h.audit.logout(ctx, claims.PrincipalID, claims.SessionID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.monitor.Touch(ctx, claims, now); err != nil {
		h.log.ErrorContext(ctx, "auth.validate.touch.fail", "err", err)
	}

	metrics.ValidateResults.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, validateResponse{
		Principal: principalResponse{
			ID:         claims.PrincipalID,
			Role:       claims.Role,
			GuardianID: claims.GuardianID,
		},
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	})
}

type terminateRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if claims.Role != "guardian" {
		writeError(w, http.StatusForbidden, "forbidden", "guardian access required")
		return
	}

	var req terminateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.TerminateOwned(ctx, now, req.SessionID, claims.PrincipalID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		h.log.ErrorContext(ctx, "auth.terminate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.SessionsClosed.WithLabelValues(session.EndReasonRevokedAdmin).Inc()
	h.audit.terminated(ctx, claims.PrincipalID, req.SessionID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

// requireAuth validates the bearer token and maps every failure mode to its
// 401 response code.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	ctx := r.Context()
	now := time.Now().UTC()

	claims, err := h.monitor.Validate(ctx, bearerToken(r), now)
	if err == nil {
		return claims, true
	}

	code := "invalid_token"
	switch {
	case errors.Is(err, session.ErrNoToken):
		code = "no_token"
	case errors.Is(err, session.ErrTokenMalformed):
		code = "token_malformed"
	case errors.Is(err, session.ErrSignatureInvalid):
		code = "signature_invalid"
	case errors.Is(err, session.ErrTokenExpired):
		code = "token_expired"
	case errors.Is(err, session.ErrSessionExpired):
		code = "session_expired"
	case errors.Is(err, session.ErrSessionInvalid), errors.Is(err, session.ErrSessionNotFound):
		code = "session_not_active"
	case errors.Is(err, session.ErrInvalidToken):
		code = "invalid_token"
	default:
		h.log.ErrorContext(ctx, "auth.validate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return session.AccessClaims{}, false
	}

	metrics.ValidateResults.WithLabelValues(code).Inc()
	writeError(w, http.StatusUnauthorized, code, "authentication required")
	return session.AccessClaims{}, false
}

func writeLockedOut(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "locked_out", "too many failed attempts")
}
