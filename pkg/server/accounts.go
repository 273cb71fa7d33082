package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mygasbridge/mygasbridge/pkg/registry"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	snap := s.coordinator.Snapshot()
	if snap == nil {
		writeAPIError(r.Context(), w, "get accounts", types.ErrNoSnapshot)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleClientInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := s.coordinator.ClientInfo(ctx)
	if err != nil {
		writeAPIError(ctx, w, "get client info", err)
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.Devices()
	if devices == nil {
		devices = []registry.Entry{}
	}
	writeJSON(w, devices)
}

func (s *Server) handleCharges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lspuID, err := parseLSPUID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.coordinator.Charges(ctx, lspuID)
	if err != nil {
		writeAPIError(ctx, w, "get charges", err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lspuID, err := parseLSPUID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.coordinator.Payments(ctx, lspuID)
	if err != nil {
		writeAPIError(ctx, w, "get payments", err)
		return
	}
	writeJSON(w, res)
}

func parseLSPUID(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("lspu")
	if v == "" {
		return 0, errors.New("missing lspu")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid lspu: %s", v)
	}
	return id, nil
}
