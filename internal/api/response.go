package api

import (
	"encoding/json"
	"net/http"

	"github.com/strefethen/playsched-go/internal/apperrors"
)

// ListResponse is the envelope for every collection endpoint.
type ListResponse struct {
	Object  string `json:"object"`
	Data    any    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// ErrorResponse is the envelope for every error.
type ErrorResponse struct {
	Error apperrors.Body `json:"error"`
}

// WriteJSON sends payload as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError writes err as {"error": {...}}. Errors that are not AppErrors
// become a 500 without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.Body()})
}

// WriteList writes {"object":"list","data":...,"has_more":...,"url":...}.
func WriteList(w http.ResponseWriter, url string, data any, hasMore bool) error {
	return WriteJSON(w, http.StatusOK, ListResponse{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
		URL:     url,
	})
}

// WriteResource writes a single object unwrapped. The value carries its own
// "object" field.
func WriteResource(w http.ResponseWriter, status int, resource any) error {
	return WriteJSON(w, status, resource)
}
