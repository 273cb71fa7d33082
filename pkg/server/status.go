package server

import (
	"net/http"
	"time"

	"github.com/mygasbridge/mygasbridge/pkg/common"
	"github.com/mygasbridge/mygasbridge/pkg/scheduler"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

type statusResponse struct {
	Version    string           `json:"version"`
	Scheduler  scheduler.Status `json:"scheduler"`
	LastUpdate time.Time        `json:"lastUpdate"`
	Shape      types.Shape      `json:"shape"`
	Accounts   int              `json:"accounts"`
	Balance    *float64         `json:"balance"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := statusResponse{
		Version:   common.Version(),
		Scheduler: s.scheduler.Status(),
	}
	if snap := s.coordinator.Snapshot(); snap != nil {
		res.LastUpdate = snap.LastUpdate
		res.Shape = snap.Shape
		res.Accounts = len(snap.AccountIDs)
		res.Balance = snap.Balance
	}
	writeJSON(w, res)
}

// handleRefresh fetches the accounts tree again and waits for the update.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.coordinator.ForceNextUpdate()
	if err := s.scheduler.Refresh(ctx); err != nil {
		writeAPIError(ctx, w, "refresh", err)
		return
	}
	s.handleStatus(w, r)
}
