package mygas

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantString string
		retryable  bool
	}{
		{
			name:       "retryable 429 error",
			err:        &APIError{StatusCode: http.StatusTooManyRequests, Endpoint: "accounts", Message: "rate limited"},
			wantString: "mygas api error (429) at accounts: rate limited",
			retryable:  true,
		},
		{
			name:       "non-retryable 404 error",
			err:        &APIError{StatusCode: http.StatusNotFound, Endpoint: "els/1"},
			wantString: "mygas api error (404) at els/1",
			retryable:  false,
		},
		{
			name:       "retryable 503 error",
			err:        &APIError{StatusCode: http.StatusServiceUnavailable, Endpoint: "receipt", Message: "maintenance"},
			wantString: "mygas api error (503) at receipt: maintenance",
			retryable:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantString, tt.err.Error())
			assert.Equal(t, tt.retryable, tt.err.Retryable())
		})
	}
}

func TestAuthError(t *testing.T) {
	assert.Equal(t, "mygas authentication error: missing password", (&AuthError{Message: "missing password"}).Error())
	assert.Equal(
		t,
		"mygas authentication error (401) at auth/login: wrong password",
		(&AuthError{Endpoint: "auth/login", StatusCode: http.StatusUnauthorized, Message: "wrong password"}).Error(),
	)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "a", errorMessage([]byte(`{"message":"a","error":"b"}`)))
	assert.Equal(t, "b", errorMessage([]byte(`{"error":"b"}`)))
	assert.Equal(t, "c", errorMessage([]byte(`{"detail":"c"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("  plain text\n")))
	assert.Equal(t, "", errorMessage(nil))
	assert.Len(t, errorMessage([]byte(strings.Repeat("x", 500))), 200)
}
