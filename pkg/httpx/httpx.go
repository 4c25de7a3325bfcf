package httpx

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with a consistent shape:
// {"error": {"code":"...","message":"..."}}
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	if code == "" {
		code = http.StatusText(statusCode)
	}
	WriteJSON(w, statusCode, map[string]any{"error": ErrorPayload{Code: code, Message: message}})
}

// WriteErrorWithDetails writes a JSON error with a stable code and additional details map.
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]any) {
	WriteJSON(w, statusCode, map[string]any{"error": ErrorPayload{Code: code, Message: message, Details: details}})
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("Failed to write response: %v\n", err)
	}
}

func WriteText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(body))
}

func WriteHTML(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// MetaRefresh builds the small HTML body browsers follow after delay seconds.
func MetaRefresh(delaySec int, url string) string {
	return fmt.Sprintf("<meta http-equiv='refresh' content='%d; url=%s'>", delaySec, html.EscapeString(url))
}

// WriteRefresh answers with a meta refresh page.
func WriteRefresh(w http.ResponseWriter, delaySec int, url string) {
	WriteHTML(w, http.StatusOK, []byte(MetaRefresh(delaySec, url)))
}
