package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mygasbridge/mygasbridge/pkg/mygas"
	"github.com/mygasbridge/mygasbridge/pkg/registry"
	"github.com/mygasbridge/mygasbridge/pkg/scheduler"
	"github.com/mygasbridge/mygasbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *mockCoordinator, *mockScheduler) {
	c := &mockCoordinator{}
	sched := &mockScheduler{}
	srv := &Server{
		coordinator: c,
		scheduler:   sched,
		devices: fakeDevices{{
			ID:          "dev1",
			Identifiers: []string{"111_uuid-a"},
			Device:      types.CounterDevice{AccountNumber: "111", UUID: "uuid-a", Identifier: "111_uuid-a"},
		}},
		listenAddr: ":8080",
	}
	return srv, c, sched
}

func serve(srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var v map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer()
	w := serve(srv, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Version"))
}

func TestStatus(t *testing.T) {
	t.Run("With Snapshot", func(t *testing.T) {
		srv, c, sched := newTestServer()
		balance := 12.5
		c.On("Snapshot").Return(&types.Snapshot{
			LastUpdate: time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC),
			Shape:      types.ShapeLSPU,
			AccountIDs: []types.AccountID{1, 2},
			Balance:    &balance,
		})
		sched.On("Status").Return(scheduler.Status{LastError: "boom"})

		w := serve(srv, "GET", "/api/status", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode(t, w)
		assert.Equal(t, "lspu", res["shape"])
		assert.Equal(t, float64(2), res["accounts"])
		assert.Equal(t, 12.5, res["balance"])
		assert.Equal(t, "boom", res["scheduler"].(map[string]any)["lastError"])
	})

	t.Run("Before First Poll", func(t *testing.T) {
		srv, c, sched := newTestServer()
		c.On("Snapshot").Return(nil)
		sched.On("Status").Return(scheduler.Status{})

		w := serve(srv, "GET", "/api/status", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode(t, w)
		assert.Equal(t, "empty", res["shape"])
		assert.Nil(t, res["balance"])
	})
}

func TestRefresh(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv, c, sched := newTestServer()
		c.On("ForceNextUpdate").Once()
		c.On("Snapshot").Return(&types.Snapshot{Shape: types.ShapeELS})
		sched.On("Refresh", mock.Anything).Return(nil).Once()
		sched.On("Status").Return(scheduler.Status{})

		w := serve(srv, "POST", "/api/refresh", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "els", decode(t, w)["shape"])
		c.AssertExpectations(t)
		sched.AssertExpectations(t)
	})

	t.Run("Auth Failure", func(t *testing.T) {
		srv, c, sched := newTestServer()
		c.On("ForceNextUpdate")
		sched.On("Refresh", mock.Anything).Return(fmt.Errorf("%w: %w", types.ErrAuthFailed, &mygas.AuthError{}))

		w := serve(srv, "POST", "/api/refresh", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, types.ErrAuthFailed.Error(), decode(t, w)["error"])
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		srv, _, _ := newTestServer()
		w := serve(srv, "GET", "/api/refresh", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestAccounts(t *testing.T) {
	t.Run("No Snapshot", func(t *testing.T) {
		srv, c, _ := newTestServer()
		c.On("Snapshot").Return(nil)
		w := serve(srv, "GET", "/api/accounts", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Snapshot", func(t *testing.T) {
		srv, c, _ := newTestServer()
		c.On("Snapshot").Return(&types.Snapshot{
			Shape:      types.ShapeLSPU,
			AccountIDs: []types.AccountID{10},
			LSPU:       map[types.AccountID][]map[string]any{10: {{"account": "A-10"}}},
		})
		w := serve(srv, "GET", "/api/accounts", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode(t, w)
		assert.Equal(t, []any{float64(10)}, res["accountIDs"])
		assert.Contains(t, res["lspu"], "10")
	})
}

func TestDevices(t *testing.T) {
	srv, _, _ := newTestServer()
	w := serve(srv, "GET", "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res []registry.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res, 1)
	assert.Equal(t, "dev1", res[0].ID)
}

func TestClientInfo(t *testing.T) {
	srv, c, _ := newTestServer()
	c.On("ClientInfo", mock.Anything).Return(nil, &types.UpdateError{Op: "get client info", Err: errors.New("down")})
	w := serve(srv, "GET", "/api/client", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode(t, w)["error"], "down")
}

func TestReadings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv, c, sched := newTestServer()
		c.On("SendReadings", mock.Anything, "dev1", 123.4).Return([]map[string]any{{"status": "ok"}}, nil).Once()
		sched.On("RequestRefresh").Once()

		w := serve(srv, "POST", "/api/readings", `{"device":"dev1","value":123.4}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[{"status":"ok"}]`, w.Body.String())
		c.AssertExpectations(t)
		sched.AssertExpectations(t)
	})

	t.Run("Not Resolved", func(t *testing.T) {
		srv, c, sched := newTestServer()
		c.On("SendReadings", mock.Anything, "dev9", 1.0).Return(nil, fmt.Errorf("%w: dev9", types.ErrDeviceNotResolved))

		w := serve(srv, "POST", "/api/readings", `{"device":"dev9","value":1}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		sched.AssertNotCalled(t, "RequestRefresh")
	})

	t.Run("Bad Request", func(t *testing.T) {
		srv, c, _ := newTestServer()
		for _, body := range []string{`nope`, `{"value":1}`, `{"device":"dev1"}`, `{"device":"dev1","value":-1}`} {
			w := serve(srv, "POST", "/api/readings", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		c.AssertNotCalled(t, "SendReadings", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestBill(t *testing.T) {
	receipt := map[string]any{"url": "https://example.com/bill.pdf"}

	t.Run("Success", func(t *testing.T) {
		srv, c, _ := newTestServer()
		c.On("GetBill", mock.Anything, "dev1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), "me@example.com").Return(receipt, nil).Once()

		w := serve(srv, "GET", "/api/bill?device=dev1&date=2026-09-01&email=me@example.com", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://example.com/bill.pdf", decode(t, w)["url"])
	})

	t.Run("Today", func(t *testing.T) {
		srv, c, _ := newTestServer()
		c.On("GetBill", mock.Anything, "dev1", time.Time{}, "").Return(receipt, nil).Once()
		w := serve(srv, "GET", "/api/bill?device=dev1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		c.AssertExpectations(t)
	})

	t.Run("Unknown Device", func(t *testing.T) {
		srv, c, _ := newTestServer()
		c.On("GetBill", mock.Anything, "nope", time.Time{}, "").Return(nil, nil)
		w := serve(srv, "GET", "/api/bill?device=nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Bad Date", func(t *testing.T) {
		srv, _, _ := newTestServer()
		w := serve(srv, "GET", "/api/bill?device=dev1&date=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChargesAndPayments(t *testing.T) {
	srv, c, _ := newTestServer()
	c.On("Charges", mock.Anything, int64(5550)).Return(map[string]any{"total": 10.0}, nil)
	c.On("Payments", mock.Anything, int64(5550)).Return(nil, errors.New("unexpected"))

	w := serve(srv, "GET", "/api/charges?lspu=5550", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10.0, decode(t, w)["total"])

	w = serve(srv, "GET", "/api/payments?lspu=5550", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = serve(srv, "GET", "/api/charges", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(srv, "GET", "/api/charges?lspu=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv, c, _ := newTestServer()
	srv.apiToken = "secret"
	c.On("Snapshot").Return(&types.Snapshot{})

	w := serve(srv, "GET", "/api/accounts", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest("GET", "/api/accounts", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest("GET", "/api/accounts", nil)
	r.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// health checks stay open
	w = serve(srv, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGzip(t *testing.T) {
	srv, _, _ := newTestServer()
	devices := make(fakeDevices, 0, 50)
	for i := 0; i < 50; i++ {
		devices = append(devices, registry.Entry{ID: fmt.Sprintf("device-%d", i), Identifiers: []string{"x"}})
	}
	srv.devices = devices

	r := httptest.NewRequest("GET", "/api/devices", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.False(t, bytes.HasPrefix(w.Body.Bytes(), []byte("[")))
}
