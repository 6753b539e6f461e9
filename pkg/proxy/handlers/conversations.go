package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// KeywordMatcher finds blocked keywords. Implemented by *keywords.Matcher.
type KeywordMatcher interface {
	Match(text string) (string, bool)
}

// ConversationHandler serves a user's conversations and their messages.
type ConversationHandler struct {
	store        storage.Store
	keywords     KeywordMatcher
	maxBodyBytes int64
}

// NewConversationHandler creates a conversation handler. keywords may be nil.
func NewConversationHandler(store storage.Store, keywords KeywordMatcher, maxBodyBytes int64) *ConversationHandler {
	return &ConversationHandler{store: store, keywords: keywords, maxBodyBytes: maxBodyBytes}
}

// List handles GET /api/conversations.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	convs, err := h.store.ListConversations(r.Context(), user.ID)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*storage.Conversation{}
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, convs)
}

// Create handles POST /api/conversations.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req types.ConversationRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Title is required"))
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), user.ID, title)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusCreated, conv)
}

// Get handles GET /api/conversations/{id}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.owned(w, r)
	if !ok {
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, types.NewConversationDetail(conv, msgs))
}

// Update handles PUT /api/conversations/{id}.
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req types.ConversationRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Title is required"))
		return
	}

	updated, err := h.store.UpdateConversation(r.Context(), conv.ID, title)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/conversations/{id}.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	proxy.WriteNoContent(w)
}

// CreateMessage handles POST /api/conversations/{id}/messages. User
// messages go through the keyword filter.
func (h *ConversationHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req types.MessageRequest
	if err := proxy.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	if req.Role == "" || req.Content == "" {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Role and content are required"))
		return
	}

	if req.Role == "user" && h.keywords != nil {
		if kw, blocked := h.keywords.Match(req.Content); blocked {
			slog.InfoContext(r.Context(), "message refused, blocked keyword",
				"conversation_id", conv.ID,
				"keyword", kw,
			)
			_ = proxy.WriteErrorResponse(w, types.NewBlockedError("Your message contains blocked content", kw))
			return
		}
	}

	msg, err := h.store.CreateMessage(r.Context(), conv.ID, req.Role, req.Content)
	if err != nil {
		proxy.WriteError(w, r, err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusCreated, msg)
}

// owned loads the {id} conversation and checks it belongs to the caller,
// writing the error response when it does not.
func (h *ConversationHandler) owned(w http.ResponseWriter, r *http.Request) (*storage.Conversation, bool) {
	id, ok := proxy.PathID(r, "id")
	if !ok {
		_ = proxy.WriteErrorResponse(w, types.NewBadRequestError("Invalid conversation ID"))
		return nil, false
	}
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("Conversation not found"))
			return nil, false
		}
		proxy.WriteError(w, r, err)
		return nil, false
	}
	user, _ := auth.UserFromContext(r.Context())
	if user == nil || conv.UserID != user.ID {
		_ = proxy.WriteErrorResponse(w, types.NewForbiddenError("Forbidden"))
		return nil, false
	}
	return conv, true
}
