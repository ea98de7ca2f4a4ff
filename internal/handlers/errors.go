package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorResponse is the standard JSON error body returned for all error
// conditions. This replaces http.Error (which returns text/plain) so
// automated webhook clients always receive consistent JSON.
//
// Modeled after:
//   - ArgoCD's grpc-gateway JSONMarshaler (util-grpc/json.go) which
//     ensures all API responses, including errors, are JSON-encoded.
//   - Jaeger's httperr.HandleError (hotrod/pkg/httperr/httperr.go)
//     which centralizes error-to-HTTP-response conversion.
//   - ArgoCD's webhook Handler() which uses http.Error for failures —
//     we improve on this by always returning JSON.
type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// WriteErrorJSON writes a JSON error response with the given HTTP status
// code. The pipeline's error paths (auth, rate limit, timeout, upstream
// failure) use it unless the client asks for text/plain.
func WriteErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error:  message,
		Status: statusCode,
	}); err != nil {
		// If JSON encoding fails, there's nothing left to do — headers
		// are already written. Log it for debugging.
		slog.Error("failed to encode error response", "error", err)
	}
}
