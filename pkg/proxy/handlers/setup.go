package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// EndpointSetter repoints the inference client. Implemented by
// *inference.Client.
type EndpointSetter interface {
	SetEndpoint(endpoint string) error
}

// SetupHandler serves the first-run wizard.
type SetupHandler struct {
	store        storage.Store
	sessions     *auth.SessionManager
	endpoint     EndpointSetter
	maxBodyBytes int64
}

// NewSetupHandler creates a setup handler.
func NewSetupHandler(store storage.Store, sessions *auth.SessionManager, endpoint EndpointSetter, maxBodyBytes int64) *SetupHandler {
	return &SetupHandler{store: store, sessions: sessions, endpoint: endpoint, maxBodyBytes: maxBodyBytes}
}

// SetupCompleted reports whether a user exists and the backend settings
// have been stored.
func SetupCompleted(ctx context.Context, store storage.Store) (bool, error) {
	n, err := store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	for _, key := range []string{storage.SettingModelName, storage.SettingOllamaURL} {
		if _, err := store.GetSetting(ctx, key); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// Status handles GET /api/setup/status.
func (h *SetupHandler) Status(w http.ResponseWriter, r *http.Request) {
	done, err := SetupCompleted(r.Context(), h.store)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.SetupStatus{IsCompleted: done})
}

// Setup handles POST /api/setup. It creates the admin account, stores the
// backend settings, registers the default model and signs the admin in.
func (h *SetupHandler) Setup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	done, err := SetupCompleted(ctx, h.store)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if done {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Setup already completed"))
		return
	}

	var req types.SetupRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if err := h.endpoint.SetEndpoint(req.OllamaURL); err != nil {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid Ollama URL"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	admin, err := h.store.CreateUser(ctx, strings.TrimSpace(req.Username), hash)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Username already exists"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	if !admin.IsAdmin {
		isAdmin := true
		if admin, err = h.store.UpdateUser(ctx, admin.ID, storage.UserUpdate{IsAdmin: &isAdmin}); err != nil {
			proxy.WriteError(w, r, err)
			return
		}
	}

	if err := storeLLMSettings(ctx, h.store, &req.LLMSettings, &admin.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if _, err := h.store.PutSetting(ctx, storage.SettingAppName, req.AppName, &admin.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if _, err := h.store.PutSetting(ctx, storage.SettingSetupCompleted, "true", &admin.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	_, err = h.store.CreateModel(ctx, &storage.Model{
		Name:        req.ModelName,
		DisplayName: req.ModelDisplayName,
		APIEndpoint: req.OllamaURL,
		IsDefault:   true,
		IsActive:    true,
		AddedBy:     &admin.ID,
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		proxy.WriteError(w, r, err)
		return
	}

	if err := h.sessions.Issue(w, admin.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	slog.InfoContext(ctx, "setup completed",
		"admin_user_id", admin.ID,
		"model", req.ModelName,
		"endpoint", req.OllamaURL,
	)
	_ = proxy.WriteJSONResponse(w, http.StatusCreated, types.SuccessResponse{
		Success: true,
		Message: "Setup completed successfully",
	})
}

func storeLLMSettings(ctx context.Context, store storage.Store, s *types.LLMSettings, userID *int64) error {
	values := map[string]string{
		storage.SettingModelName:        s.ModelName,
		storage.SettingOllamaURL:        s.OllamaURL,
		storage.SettingModelDisplayName: s.ModelDisplayName,
	}
	for key, value := range values {
		if _, err := store.PutSetting(ctx, key, value, userID); err != nil {
			return err
		}
	}
	return nil
}
