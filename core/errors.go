package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput          = "BANKSYNC_BAD_INPUT"
	ErrorProviderNotFound  = "BANKSYNC_PROVIDER_NOT_FOUND"
	ErrorProviderFailed    = "BANKSYNC_PROVIDER_OPERATION_FAILED"
	ErrorVaultFailure      = "BANKSYNC_VAULT_FAILURE"
	ErrorConfigInvalid     = "BANKSYNC_CONFIG_INVALID"
	ErrorConnectionMissing = "BANKSYNC_CONNECTION_NOT_FOUND"
	ErrorRateLimited       = "BANKSYNC_RATE_LIMITED"
	ErrorInternal          = "BANKSYNC_INTERNAL_ERROR"
)

func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "no client registered"), strings.Contains(msg, "unknown provider"):
		return newCoreError(err.Error(), goerrors.CategoryNotFound, ErrorProviderNotFound)
	case strings.Contains(msg, "connection not found"):
		return newCoreError(err.Error(), goerrors.CategoryNotFound, ErrorConnectionMissing)
	case strings.Contains(msg, "decrypt"), strings.Contains(msg, "ciphertext"), strings.Contains(msg, "encryption context"):
		return newCoreError(err.Error(), goerrors.CategoryInternal, ErrorVaultFailure)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newCoreError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newCoreError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusFor(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorProviderNotFound
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return ErrorProviderFailed
	default:
		return ErrorInternal
	}
}

func httpStatusFor(category goerrors.Category) int {
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
