package response

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// APIResponse is the envelope every endpoint returns. The request id comes
// from the RequestID middleware so clients can quote it when reporting a
// failed financial operation.
type APIResponse struct {
	Status    string      `json:"status"`
	RequestID string      `json:"request_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:    "success",
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func Error(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:    "error",
		RequestID: middleware.GetReqID(r.Context()),
		Message:   msg,
	}
	_ = json.NewEncoder(w).Encode(resp)
}
