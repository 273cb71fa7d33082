package mygas

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-authentication error returned by the MyGas API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mygas api error (%d) at %s", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("mygas api error (%d) at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// Retryable returns true if the request may succeed when repeated later.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// AuthError is returned when the MyGas API rejects the credentials.
type AuthError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("mygas authentication error: %s", e.Message)
	}
	return fmt.Sprintf("mygas authentication error (%d) at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// errorMessage pulls a human readable message out of an error body. The API
// is not consistent about the field name.
func errorMessage(body []byte) string {
	var res struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &res); err == nil {
		switch {
		case res.Message != "":
			return res.Message
		case res.Error != "":
			return res.Error
		case res.Detail != "":
			return res.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
