package plaid

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-banksync/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	metadataErrorType = "plaid_error_type"
	metadataErrorCode = "plaid_error_code"
	metadataRequestID = "plaid_request_id"
)

type apiErrorBody struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

func decodeAPIError(path string, response core.TransportResponse) error {
	parsed := apiErrorBody{}
	_ = json.Unmarshal(response.Body, &parsed)

	message := strings.TrimSpace(parsed.ErrorMessage)
	if message == "" {
		message = fmt.Sprintf("plaid: %s returned status %d", path, response.StatusCode)
	} else {
		message = "plaid: " + message
	}

	category := goerrors.CategoryExternal
	if parsed.ErrorType == "ITEM_ERROR" && parsed.ErrorCode == "ITEM_LOGIN_REQUIRED" {
		category = goerrors.CategoryAuth
	}

	return providerError(message, category, map[string]any{
		"path":            path,
		"status_code":     response.StatusCode,
		metadataErrorType: parsed.ErrorType,
		metadataErrorCode: parsed.ErrorCode,
		metadataRequestID: parsed.RequestID,
	})
}

func providerError(message string, category goerrors.Category, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(statusFor(category)).
		WithTextCode(core.ErrorProviderFailed)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func providerWrapError(source error, message string, category goerrors.Category, metadata map[string]any) error {
	if source == nil {
		return providerError(message, category, metadata)
	}
	var richErr *goerrors.Error
	if goerrors.As(source, &richErr) {
		return source
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(statusFor(category)).
		WithTextCode(core.ErrorProviderFailed)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the provider error code carried on a failed
// operation, or "" when the error did not originate from the API.
func ErrorCode(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return ""
	}
	code, _ := richErr.Metadata[metadataErrorCode].(string)
	return code
}

func statusFor(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
