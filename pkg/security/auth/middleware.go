package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"llamachat-hq/relay/pkg/storage"
	"llamachat-hq/relay/pkg/telemetry/logging"
)

// UserLookup loads users by id.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
}

// Authenticator resolves the signed-in user of a request.
type Authenticator struct {
	sessions *SessionManager
	users    UserLookup
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(sessions *SessionManager, users UserLookup) *Authenticator {
	return &Authenticator{sessions: sessions, users: users}
}

// Sessions returns the underlying session manager.
func (a *Authenticator) Sessions() *SessionManager {
	return a.sessions
}

// Resolve returns the active user behind the request's session cookie.
func (a *Authenticator) Resolve(r *http.Request) (*storage.User, error) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrNoSession
	}
	return user, nil
}

// RequireUser rejects requests without a valid session with 401.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Resolve(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				slog.Error("session lookup failed", "error", err, "path", r.URL.Path)
			}
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		ctx := logging.WithUserID(WithUser(r.Context(), user), user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin is RequireUser plus a 403 for non-admin users.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		if !user.IsAdmin {
			slog.Warn("admin route refused", "user_id", user.ID, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "Forbidden. Admin access required.")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

type contextKey string

const userKey contextKey = "session_user"

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (*storage.User, bool) {
	user, ok := ctx.Value(userKey).(*storage.User)
	return user, ok && user != nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
