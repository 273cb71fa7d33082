package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/mygasbridge/mygasbridge/pkg/common"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/registry"
	"github.com/mygasbridge/mygasbridge/pkg/scheduler"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// Coordinator is the part of the coordinator exposed over HTTP.
type Coordinator interface {
	Snapshot() *types.Snapshot
	ForceNextUpdate()
	ClientInfo(ctx context.Context) (map[string]any, error)
	Charges(ctx context.Context, lspuID int64) (map[string]any, error)
	Payments(ctx context.Context, lspuID int64) (map[string]any, error)
	GetBill(ctx context.Context, deviceID string, date time.Time, email string) (map[string]any, error)
	SendReadings(ctx context.Context, deviceID string, value float64) ([]map[string]any, error)
}

// Scheduler runs the coordinator updates.
type Scheduler interface {
	Refresh(ctx context.Context) error
	RequestRefresh()
	Status() scheduler.Status
}

// Devices lists the registered counter devices.
type Devices interface {
	Devices() []registry.Entry
}

// Server is the local HTTP API of the bridge.
type Server struct {
	coordinator Coordinator
	scheduler   Scheduler
	devices     Devices

	listenAddr string
	apiToken   string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(c Coordinator, sched Scheduler, devices Devices) *Server {
	srv := &Server{
		coordinator: c,
		scheduler:   sched,
		devices:     devices,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address, empty disables the HTTP API")
	apiToken := lflag.String("http-api-token", "", "Bearer token required for /api requests, empty disables authentication")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.apiToken = *apiToken
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("POST /api/refresh", s.handleRefresh)
	apiMux.HandleFunc("GET /api/accounts", s.handleAccounts)
	apiMux.HandleFunc("GET /api/client", s.handleClientInfo)
	apiMux.HandleFunc("GET /api/devices", s.handleDevices)
	apiMux.HandleFunc("GET /api/bill", s.handleBill)
	apiMux.HandleFunc("POST /api/readings", s.handleReadings)
	apiMux.HandleFunc("GET /api/charges", s.handleCharges)
	apiMux.HandleFunc("GET /api/payments", s.handlePayments)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.versionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if s.listenAddr == "" {
		log.Ctx(ctx).InfoContext(ctx, "http api disabled")
		<-ctx.Done()
		return nil
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeAPIError maps coordinator errors to a status code.
func writeAPIError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	var updateErr *types.UpdateError
	switch {
	case errors.Is(err, types.ErrDeviceNotResolved), errors.Is(err, types.ErrDeviceNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, types.ErrNoSnapshot):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	case types.IsAuthFailure(err):
		log.Ctx(ctx).WarnContext(ctx, op+" failed: credentials rejected", slog.Any("error", err))
		writeJSONError(w, types.ErrAuthFailed.Error(), http.StatusBadGateway)
	case errors.As(err, &updateErr):
		log.Ctx(ctx).ErrorContext(ctx, op+" failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadGateway)
	default:
		log.Ctx(ctx).ErrorContext(ctx, op+" failed", slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Version", common.Version())
		next.ServeHTTP(w, r)
	})
}
