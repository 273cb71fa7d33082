package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

type readingsRequest struct {
	Device string   `json:"device"`
	Value  *float64 `json:"value"`
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req readingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Device == "" {
		writeJSONError(w, "missing device", http.StatusBadRequest)
		return
	}
	if req.Value == nil || *req.Value < 0 {
		writeJSONError(w, "invalid value", http.StatusBadRequest)
		return
	}

	ctx = log.WithAttrs(ctx, slog.String("deviceID", req.Device))
	res, err := s.coordinator.SendReadings(ctx, req.Device, *req.Value)
	if err != nil {
		writeAPIError(ctx, w, "send readings", err)
		return
	}
	s.scheduler.RequestRefresh()
	if res == nil {
		res = []map[string]any{}
	}
	writeJSON(w, res)
}

func (s *Server) handleBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	deviceID := q.Get("device")
	if deviceID == "" {
		writeJSONError(w, "missing device", http.StatusBadRequest)
		return
	}
	var date time.Time
	if v := q.Get("date"); v != "" {
		var err error
		date, err = time.Parse(time.DateOnly, v)
		if err != nil {
			writeJSONError(w, "invalid date: "+v, http.StatusBadRequest)
			return
		}
	}

	ctx = log.WithAttrs(ctx, slog.String("deviceID", deviceID))
	res, err := s.coordinator.GetBill(ctx, deviceID, date, q.Get("email"))
	if err != nil {
		writeAPIError(ctx, w, "get bill", err)
		return
	}
	if res == nil {
		writeAPIError(ctx, w, "get bill", types.ErrDeviceNotFound)
		return
	}
	writeJSON(w, res)
}
