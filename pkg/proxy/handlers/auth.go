package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// AuthHandler serves registration, login and the current-user endpoints.
type AuthHandler struct {
	store        storage.Store
	sessions     *auth.SessionManager
	maxBodyBytes int64
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(store storage.Store, sessions *auth.SessionManager, maxBodyBytes int64) *AuthHandler {
	return &AuthHandler{store: store, sessions: sessions, maxBodyBytes: maxBodyBytes}
}

// Register handles POST /api/register. The new user is signed in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var creds types.Credentials
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &creds); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	username := strings.TrimSpace(creds.Username)

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	user, err := h.store.CreateUser(r.Context(), username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Username already exists"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	if err := h.sessions.Issue(w, user.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "user registered",
		"user_id", user.ID,
		"username", user.Username,
		"is_admin", user.IsAdmin,
	)
	_ = proxy.WriteJSONResponse(w, http.StatusCreated, user)
}

// Login handles POST /api/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds types.Credentials
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &creds); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	ctx := r.Context()

	user, err := h.store.GetUserByUsername(ctx, strings.TrimSpace(creds.Username))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		proxy.WriteError(w, r, err)
		return
	}
	if user == nil || !auth.VerifyPassword(user.PasswordHash, creds.Password) {
		slog.InfoContext(ctx, "login failed", "username", creds.Username, "client_ip", proxy.ClientIP(r))
		proxy.WriteError(w, r, auth.ErrInvalidCredentials)
		return
	}
	if !user.IsActive {
		slog.InfoContext(ctx, "login refused, account inactive", "user_id", user.ID)
		_ = proxy.WriteErrorResponse(w, types.NewUnauthorizedError("Account is inactive"))
		return
	}
	if auth.IsLegacyHash(user.PasswordHash) {
		slog.InfoContext(ctx, "user signed in with a legacy password hash", "user_id", user.ID)
	}

	if err := h.store.TouchLogin(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "failed to record login time", "user_id", user.ID, "error", err)
	} else if fresh, err := h.store.GetUser(ctx, user.ID); err == nil {
		user = fresh
	}
	if err := h.sessions.Issue(w, user.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	slog.InfoContext(ctx, "user logged in", "user_id", user.ID)
	_ = proxy.WriteJSONResponse(w, http.StatusOK, user)
}

// Logout handles POST /api/logout. It succeeds without a session too.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.MessageResponse{Message: "Logged out successfully"})
}

// CurrentUser handles GET /api/user.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		proxy.WriteError(w, r, auth.ErrNoSession)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, user)
}

// Profile handles GET /api/user/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		proxy.WriteError(w, r, auth.ErrNoSession)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.NewUserProfile(user))
}
