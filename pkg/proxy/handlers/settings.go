package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// SettingsHandler serves the application and backend settings.
type SettingsHandler struct {
	store          storage.Store
	endpoint       EndpointSetter
	defaultAppName func() string
	maxBodyBytes   int64
}

// NewSettingsHandler creates a settings handler. defaultAppName supplies
// the name shown until the setup wizard stores one; it is called per
// request so a config reload takes effect.
func NewSettingsHandler(store storage.Store, endpoint EndpointSetter, defaultAppName func() string, maxBodyBytes int64) *SettingsHandler {
	return &SettingsHandler{
		store:          store,
		endpoint:       endpoint,
		defaultAppName: defaultAppName,
		maxBodyBytes:   maxBodyBytes,
	}
}

// AppInfo handles GET /api/app-info.
func (h *SettingsHandler) AppInfo(w http.ResponseWriter, r *http.Request) {
	name := h.defaultAppName()
	setting, err := h.store.GetSetting(r.Context(), storage.SettingAppName)
	switch {
	case err == nil:
		name = setting.Value
	case !errors.Is(err, storage.ErrNotFound):
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.AppInfo{AppName: name})
}

// GetLLM handles GET /api/settings/llm.
func (h *SettingsHandler) GetLLM(w http.ResponseWriter, r *http.Request) {
	settings, err := LoadLLMSettings(r.Context(), h.store)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("LLM settings not found"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, settings)
}

// PutLLM handles PUT /api/settings/llm. The inference client is repointed
// before anything is stored so an unusable URL changes nothing.
func (h *SettingsHandler) PutLLM(w http.ResponseWriter, r *http.Request) {
	var req types.LLMSettings
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if err := h.endpoint.SetEndpoint(req.OllamaURL); err != nil {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid Ollama URL"))
		return
	}

	var updatedBy *int64
	if user, ok := auth.UserFromContext(r.Context()); ok {
		updatedBy = &user.ID
	}
	if err := storeLLMSettings(r.Context(), h.store, &req, updatedBy); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "llm settings updated",
		"model", req.ModelName,
		"endpoint", req.OllamaURL,
	)
	_ = proxy.WriteJSONResponse(w, http.StatusOK, req)
}

// LoadLLMSettings reads the three backend settings. storage.ErrNotFound is
// returned when any of them is missing.
func LoadLLMSettings(ctx context.Context, store storage.Store) (*types.LLMSettings, error) {
	get := func(key string) (string, error) {
		s, err := store.GetSetting(ctx, key)
		if err != nil {
			return "", err
		}
		return s.Value, nil
	}

	var (
		out types.LLMSettings
		err error
	)
	if out.ModelName, err = get(storage.SettingModelName); err != nil {
		return nil, err
	}
	if out.OllamaURL, err = get(storage.SettingOllamaURL); err != nil {
		return nil, err
	}
	if out.ModelDisplayName, err = get(storage.SettingModelDisplayName); err != nil {
		return nil, err
	}
	return &out, nil
}
