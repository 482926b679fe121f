package response

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nkkko/pushline/internal/api/errors"
)

// Response represents a standardized API response
type Response struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     any    `json:"error,omitempty"`
}

// Success builds the envelope for a successful response
func Success(statusCode int, requestID string, data any) Response {
	return Response{
		Success:   statusCode >= 200 && statusCode < 300,
		RequestID: requestID,
		Data:      data,
	}
}

// Failure builds the envelope for err and returns the status to send it with
func Failure(requestID string, err error) (int, Response) {
	apiErr := errors.FromError(err).WithRequestID(requestID)
	return apiErr.HTTPCode, Response{
		Success:   false,
		RequestID: requestID,
		Error:     apiErr,
	}
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	sendJSON(w, statusCode, Success(statusCode, middleware.GetReqID(r.Context()), data))
}

// Error sends an error response
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := Failure(middleware.GetReqID(r.Context()), err)
	sendJSON(w, status, resp)
}

func sendJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"success":false,"error":{"type":"internal","code":"json_encode_error","message":"Failed to encode JSON response"}}`, http.StatusInternalServerError)
	}
}
