package authapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"postline/cmd/identity"
	"postline/cmd/internal/auth/session"
	"postline/cmd/internal/httpjson"
	"postline/cmd/internal/logutil"
)

// Handler wires HTTP auth and user endpoints to the session service.
type Handler struct {
	cfg      Config
	sessions *session.Service
	throttle *loginThrottle
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, sessions *session.Service) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httpjson.DefaultMaxBodyBytes
	}
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		throttle: newLoginThrottle(cfg),
		now:      time.Now,
	}, nil
}

// Routes registers the auth endpoints (public) and the user endpoints
// (behind gate) on router.
func (h *Handler) Routes(router *httprouter.Router, gate *Gate) {
	router.HandlerFunc(http.MethodPost, "/auth/register", h.handleRegister)
	router.HandlerFunc(http.MethodPost, "/auth/login", h.handleLogin)
	router.HandlerFunc(http.MethodPost, "/auth/logout", h.handleLogout)
	router.HandlerFunc(http.MethodPost, "/auth/refresh", h.handleRefresh)
	router.Handler(http.MethodPost, "/auth/logout-all", gate.Protect(http.HandlerFunc(h.handleLogoutAll)))

	router.Handler(http.MethodGet, "/users", gate.Protect(http.HandlerFunc(h.handleListUsers)))
	router.Handler(http.MethodGet, "/users/:id", gate.Protect(http.HandlerFunc(h.handleGetUser)))
	router.Handler(http.MethodPut, "/users/:id", gate.Protect(http.HandlerFunc(h.handleUpdateUser)))
	router.Handler(http.MethodDelete, "/users/:id", gate.Protect(http.HandlerFunc(h.handleDeleteUser)))
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidJSON, "invalid request body")
		return
	}

	acc, err := h.sessions.Register(r.Context(), session.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var ve session.ValidationError
		if errors.As(err, &ve) && ve.Reason == "" {
			httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "Username, email, and password are required")
			return
		}
		h.writeSessionError(w, r, "register", err)
		return
	}

	httpjson.WriteJSON(w, http.StatusCreated, toUserResponse(acc))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidJSON, "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		h.writeSessionError(w, r, "login", session.ErrInvalidCredentials)
		return
	}

	ip, key, now := clientIP(r), throttleKey(email), h.now()
	if blocked, retry := h.throttle.check(ip, key, now); blocked {
		logutil.FromContext(r.Context()).Warn().Str("ip", ip).Dur("retry_after", retry).Msg("auth.login.throttled")
		writeRateLimited(w, retry)
		return
	}

	pair, err := h.sessions.Login(r.Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.throttle.fail(ip, key, now)
		}
		h.writeSessionError(w, r, "login", err)
		return
	}
	h.throttle.succeed(key)

	httpjson.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ID:           pair.UserID,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	// No body at all is the same as an absent token.
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, httpjson.ErrEmptyBody) {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidJSON, "invalid request body")
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, session.ErrMissingToken) {
			httpjson.WriteError(w, http.StatusBadRequest, "missing_token", "Refresh Token Required")
			return
		}
		h.writeSessionError(w, r, "logout", err)
		return
	}

	httpjson.WriteMessage(w, "Logged out successfully")
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	// No body at all is the same as an absent token.
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, httpjson.ErrEmptyBody) {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidJSON, "invalid request body")
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		httpjson.WriteJSON(w, http.StatusOK, refreshResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		})
	case errors.Is(err, session.ErrMissingToken):
		httpjson.WriteError(w, http.StatusUnauthorized, "missing_token", "Refresh Token Required")
	case errors.Is(err, session.ErrUserNotFound):
		httpjson.WriteError(w, http.StatusForbidden, "user_not_found", "User not found")
	default:
		h.writeSessionError(w, r, "refresh", err)
	}
}

// handleLogoutAll ends every session of the caller, including the one the
// access token came from once it expires.
func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFromContext(r.Context())
	if err := h.sessions.RevokeAll(r.Context(), sub, session.ReasonRevokeAll); err != nil {
		h.writeSessionError(w, r, "logout_all", err)
		return
	}
	httpjson.WriteMessage(w, "Logged out of all sessions")
}

// ---- users ----

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.sessions.Accounts(r.Context())
	if err != nil {
		h.writeSessionError(w, r, "users.list", err)
		return
	}
	out := make([]userResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toUserResponse(a))
	}
	httpjson.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	acc, err := h.sessions.Account(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, r, "users.get", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, toUserResponse(acc))
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok || !requireSelf(w, r, id) {
		return
	}

	var req updateUserRequest
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidJSON, "invalid request body")
		return
	}

	acc, err := h.sessions.UpdateAccount(r.Context(), id, session.AccountUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeSessionError(w, r, "users.update", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, toUserResponse(acc))
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok || !requireSelf(w, r, id) {
		return
	}
	if err := h.sessions.DeleteAccount(r.Context(), id); err != nil {
		h.writeSessionError(w, r, "users.delete", err)
		return
	}
	httpjson.WriteMessage(w, "User deleted successfully")
}

// ---- helpers ----

func toUserResponse(a session.Account) userResponse {
	return userResponse{ID: a.ID, Username: a.Username, Email: a.Email}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := httprouter.ParamsFromContext(r.Context()).ByName("id")
	if !identity.ValidID(id) {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid user id")
		return "", false
	}
	return id, true
}

// requireSelf limits profile mutations to the account owner.
func requireSelf(w http.ResponseWriter, r *http.Request, id string) bool {
	sub, _ := SubjectFromContext(r.Context())
	if sub != id {
		httpjson.WriteError(w, http.StatusForbidden, httpjson.CodeForbidden, "Forbidden")
		return false
	}
	return true
}

// writeSessionError maps session errors to responses. Route-specific
// overrides are handled by the caller first.
func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve session.ValidationError
	switch {
	case errors.As(err, &ve):
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, ve.Field+" "+reasonOr(ve.Reason))
	case errors.Is(err, session.ErrValidation):
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid request")
	case errors.Is(err, session.ErrDuplicateUser):
		httpjson.WriteError(w, http.StatusBadRequest, "duplicate_user", "User already exists")
	case errors.Is(err, session.ErrInvalidCredentials):
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, session.ErrInvalidRefreshToken):
		httpjson.WriteError(w, http.StatusForbidden, "invalid_refresh_token", "Invalid Refresh Token")
	case errors.Is(err, session.ErrUserNotFound):
		httpjson.WriteError(w, http.StatusNotFound, httpjson.CodeNotFound, "User not found")
	case errors.Is(err, session.ErrContention):
		logutil.FromContext(r.Context()).Warn().Str("op", op).Msg("auth.contention")
		httpjson.WriteError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	default:
		logutil.FromContext(r.Context()).Error().Err(err).Str("op", op).Msg("auth.handler.fail")
		httpjson.WriteError(w, http.StatusInternalServerError, httpjson.CodeServerError, "internal error")
	}
}

func reasonOr(reason string) string {
	if reason == "" {
		return "is required"
	}
	return reason
}
