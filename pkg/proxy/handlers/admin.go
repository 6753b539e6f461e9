package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// KeywordSet is the in-memory filter refreshed after keyword changes.
// Implemented by *keywords.Matcher.
type KeywordSet interface {
	Set(keywords []string)
}

// RefreshKeywords loads every blocked keyword from store into set.
func RefreshKeywords(ctx context.Context, store storage.Store, set KeywordSet) error {
	list, err := store.ListKeywords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocked keywords: %w", err)
	}
	words := make([]string, 0, len(list))
	for _, k := range list {
		words = append(words, k.Keyword)
	}
	set.Set(words)
	return nil
}

// AdminHandler serves the admin-only endpoints: blocked keywords, users
// and models. Routes are expected behind auth.RequireAdmin.
type AdminHandler struct {
	store        storage.Store
	keywords     KeywordSet
	maxBodyBytes int64
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(store storage.Store, keywords KeywordSet, maxBodyBytes int64) *AdminHandler {
	return &AdminHandler{store: store, keywords: keywords, maxBodyBytes: maxBodyBytes}
}

// ListKeywords handles GET /api/admin/blocked-keywords.
func (h *AdminHandler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListKeywords(r.Context())
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []*storage.BlockedKeyword{}
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, list)
}

// CreateKeyword handles POST /api/admin/blocked-keywords.
func (h *AdminHandler) CreateKeyword(w http.ResponseWriter, r *http.Request) {
	var req types.KeywordRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Keyword is required"))
		return
	}

	var createdBy *int64
	if user, ok := auth.UserFromContext(r.Context()); ok {
		createdBy = &user.ID
	}
	kw, err := h.store.CreateKeyword(r.Context(), keyword, createdBy)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			_ = proxy.WriteErrorResponse(w, types.NewConflictError("Keyword already blocked"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	h.refresh(r.Context())

	slog.InfoContext(r.Context(), "blocked keyword added", "keyword_id", kw.ID)
	_ = proxy.WriteJSONResponse(w, http.StatusCreated, kw)
}

// DeleteKeyword handles DELETE /api/admin/blocked-keywords/{id}.
func (h *AdminHandler) DeleteKeyword(w http.ResponseWriter, r *http.Request) {
	id, ok := proxy.PathID(r, "id")
	if !ok {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid keyword ID"))
		return
	}
	if err := h.store.DeleteKeyword(r.Context(), id); err != nil {
		if isNotFound(err) {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("Blocked keyword not found"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	h.refresh(r.Context())

	slog.InfoContext(r.Context(), "blocked keyword removed", "keyword_id", id)
	proxy.WriteNoContent(w)
}

func (h *AdminHandler) refresh(ctx context.Context) {
	if h.keywords == nil {
		return
	}
	if err := RefreshKeywords(ctx, h.store, h.keywords); err != nil {
		slog.ErrorContext(ctx, "keyword filter not refreshed", "error", err)
	}
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	out := make([]*types.UserProfile, 0, len(users))
	for _, u := range users {
		out = append(out, types.NewUserProfile(u))
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, out)
}

// UpdateUser handles PUT /api/admin/users/{id}.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := proxy.PathID(r, "id")
	if !ok {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid user ID"))
		return
	}

	var req types.UserUpdateRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if req.Quota != nil && *req.Quota < 0 {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Quota must not be negative"))
		return
	}

	user, err := h.store.UpdateUser(r.Context(), id, storage.UserUpdate{
		IsActive: req.IsActive,
		Quota:    req.Quota,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		if isNotFound(err) {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("User not found"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "user updated by admin",
		"target_user_id", user.ID,
		"is_active", user.IsActive,
		"is_admin", user.IsAdmin,
		"quota", user.Quota,
	)
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.NewUserProfile(user))
}

// ListModels handles GET /api/admin/models.
func (h *AdminHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.store.ListModels(r.Context())
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if models == nil {
		models = []*storage.Model{}
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, models)
}

// CreateModel handles POST /api/admin/models. The first model becomes the
// default.
func (h *AdminHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	var req types.ModelRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}

	m := &storage.Model{
		Name:        strings.TrimSpace(req.Name),
		DisplayName: strings.TrimSpace(req.DisplayName),
		APIEndpoint: strings.TrimSpace(req.APIEndpoint),
		IsActive:    true,
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		m.AddedBy = &user.ID
	}

	created, err := h.store.CreateModel(r.Context(), m)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			_ = proxy.WriteErrorResponse(w, types.NewConflictError("Model already exists"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusCreated, created)
}

// SetDefaultModel handles PUT /api/admin/models/{id}/default.
func (h *AdminHandler) SetDefaultModel(w http.ResponseWriter, r *http.Request) {
	id, ok := proxy.PathID(r, "id")
	if !ok {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid model ID"))
		return
	}
	m, err := h.store.SetDefaultModel(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("Model not found"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "default model changed", "model_id", m.ID, "model", m.Name)
	_ = proxy.WriteJSONResponse(w, http.StatusOK, m)
}

// DeleteModel handles DELETE /api/admin/models/{id}. The default model and
// the last remaining model cannot be deleted.
func (h *AdminHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	id, ok := proxy.PathID(r, "id")
	if !ok {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid model ID"))
		return
	}
	if err := h.store.DeleteModel(r.Context(), id); err != nil {
		if isNotFound(err) {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("Model not found"))
			return
		}
		proxy.WriteError(w, r, err)
		return
	}
	proxy.WriteNoContent(w)
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
