package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

// failure wraps cause in an envelope whose text code matches its category.
// Anything that went wrong talking to the provider is a provider query
// failure, so callers classify it with core.IsProviderQueryFailure.
func failure(cause error, category goerrors.Category, message string, metadata map[string]any) error {
	metadata["adapter"] = KindREST
	return core.WrapError(cause, category, message, textCodeFor(category), metadata)
}

func textCodeFor(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return core.ErrorBadInput
	case goerrors.CategoryExternal:
		return core.ErrorProviderQueryFailed
	default:
		return core.ErrorInternal
	}
}
