package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorUnauthorized        = "RECONCILER_UNAUTHORIZED"
	ErrorMalformedPayload    = "RECONCILER_MALFORMED_PAYLOAD"
	ErrorStoreUnavailable    = "RECONCILER_STORE_UNAVAILABLE"
	ErrorRecordFailed        = "RECONCILER_RECORD_FAILED"
	ErrorProviderQueryFailed = "RECONCILER_PROVIDER_QUERY_FAILED"
	ErrorBadInput            = "RECONCILER_BAD_INPUT"
	ErrorNotFound            = "RECONCILER_NOT_FOUND"
	ErrorInternal            = "RECONCILER_INTERNAL_ERROR"
)

func NewError(message string, category goerrors.Category, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(HTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(
	source error,
	category goerrors.Category,
	message string,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return NewError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(HTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Unauthorized is terminal for the request; retrying with the same signature
// will fail again.
func Unauthorized(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryAuth, ErrorUnauthorized, metadata)
}

func MalformedPayload(source error, message string, metadata map[string]any) error {
	return WrapError(source, goerrors.CategoryBadInput, message, ErrorMalformedPayload, metadata)
}

func StoreUnavailable(source error, message string, metadata map[string]any) error {
	return WrapError(source, goerrors.CategoryInternal, message, ErrorStoreUnavailable, metadata)
}

func RecordFailed(source error, message string, metadata map[string]any) error {
	return WrapError(source, goerrors.CategoryOperation, message, ErrorRecordFailed, metadata)
}

func ProviderQueryFailure(source error, message string, metadata map[string]any) error {
	return WrapError(source, goerrors.CategoryExternal, message, ErrorProviderQueryFailed, metadata)
}

func BadInput(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryBadInput, ErrorBadInput, metadata)
}

func NotFound(source error, message string, metadata map[string]any) error {
	return WrapError(source, goerrors.CategoryNotFound, message, ErrorNotFound, metadata)
}

func Internal(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryInternal, ErrorInternal, metadata)
}

func IsUnauthorized(err error) bool {
	return hasTextCode(err, ErrorUnauthorized)
}

func IsMalformedPayload(err error) bool {
	return hasTextCode(err, ErrorMalformedPayload)
}

func IsStoreUnavailable(err error) bool {
	return hasTextCode(err, ErrorStoreUnavailable)
}

func IsProviderQueryFailure(err error) bool {
	return hasTextCode(err, ErrorProviderQueryFailed)
}

func IsNotFound(err error) bool {
	return hasTextCode(err, ErrorNotFound)
}

// StatusCode resolves the HTTP status carried by a rich error, falling back to 500.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code > 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(rich.TextCode), textCode)
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
