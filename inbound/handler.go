package inbound

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-banksync/core"
)

const maxDeliveryBodyBytes = 1 << 20 // 1 MiB

// Handler exposes the dispatcher as an HTTP endpoint. Mount it at a
// path ending in the provider segment, e.g. POST /webhooks/plaid.
func Handler(dispatcher *Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		provider := providerFromPath(r.URL.Path)
		if provider == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "provider segment is required"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "read request body"})
			return
		}
		if int64(len(body)) > maxDeliveryBodyBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}

		headers := make(map[string]string, len(r.Header))
		for name := range r.Header {
			headers[name] = r.Header.Get(name)
		}

		outcome, err := dispatcher.Dispatch(r.Context(), Delivery{
			Provider: core.Provider(provider),
			Headers:  headers,
			Body:     body,
		})
		if err != nil {
			writeJSON(w, statusFromError(err), map[string]any{"error": "webhook dispatch failed"})
			return
		}
		writeJSON(w, outcome.StatusCode, map[string]any{
			"accepted":  outcome.Accepted,
			"duplicate": outcome.Duplicate,
		})
	})
}

func providerFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	return strings.TrimSpace(segments[len(segments)-1])
}

func statusFromError(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code > 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
