package proxy

import (
	"context"
	"errors"
	"fmt"

	"llamachat-hq/relay/pkg/inference"
	"llamachat-hq/relay/pkg/limits"
	"llamachat-hq/relay/pkg/proxy/types"
	"llamachat-hq/relay/pkg/relay"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// HandleError maps an error from any layer to the body and status the API
// answers with. Unknown errors become a generic 500 so internals never
// reach the client.
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	var valErr *relay.ValidationError
	if errors.As(err, &valErr) {
		return types.NewBadRequestError(valErr.Message)
	}

	var blocked *relay.BlockedError
	if errors.As(err, &blocked) {
		return types.NewBlockedError(blocked.Error(), blocked.Keyword)
	}

	var quotaErr *limits.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return types.NewTooManyRequestsError(
			fmt.Sprintf("Request quota exceeded (%d of %d used)", quotaErr.Usage, quotaErr.Quota),
		)
	}

	switch {
	case errors.Is(err, auth.ErrNoSession):
		return types.NewUnauthorizedError("Not authenticated")
	case errors.Is(err, limits.ErrInactiveUser):
		return types.NewForbiddenError("Account is inactive")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return types.NewUnauthorizedError("Invalid username or password")
	case errors.Is(err, storage.ErrNotFound):
		return types.NewNotFoundError("Not found")
	case errors.Is(err, storage.ErrDefaultModel):
		return types.NewConflictError("Cannot delete the default model")
	case errors.Is(err, storage.ErrLastModel):
		return types.NewConflictError("Cannot delete the last model")
	case errors.Is(err, storage.ErrConflict):
		return types.NewConflictError("Already exists")
	}

	return handleUpstreamError(err)
}

// handleUpstreamError covers failures talking to the inference backend.
// They are all 500s; the message tells the user what went wrong.
func handleUpstreamError(err error) *types.ErrorResponse {
	var upErr *inference.UpstreamError
	if errors.As(err, &upErr) {
		if upErr.StatusCode > 0 && upErr.Message == "" {
			return types.NewServerError(fmt.Sprintf("API error: %d", upErr.StatusCode))
		}
		if upErr.Message != "" {
			return types.NewServerError(upErr.Message)
		}
		return types.NewServerError("Inference backend unavailable")
	}

	var notFound *inference.ModelNotFoundError
	if errors.As(err, &notFound) {
		return types.NewServerError(notFound.Error())
	}

	var timeoutErr *inference.TimeoutError
	if errors.As(err, &timeoutErr) {
		return types.NewServerError("Inference request timed out")
	}

	var parseErr *inference.ParseError
	if errors.As(err, &parseErr) {
		return types.NewServerError("Invalid response from inference backend")
	}

	if errors.Is(err, inference.ErrNoEndpoint) {
		return types.NewServerError("Inference endpoint is not configured")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewServerError("Request timed out")
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}
