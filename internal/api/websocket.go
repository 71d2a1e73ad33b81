package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nilskujath/onesecondtrader/internal/runlog"
)

// pollInterval is how often handleStream checks the fills table for rows
// newer than the last one it sent.
const pollInterval = 500 * time.Millisecond

// handleStream upgrades the connection and tails runlog.FillRow for
// run_id, pushing each new fill as a JSON text message within one
// pollInterval of it appearing in the database. It never reads from the
// bus directly — only
// from the recorder's durable output — so it works the same whether the
// run is still in progress or long finished.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	var lastID uint
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		var fills []runlog.FillRow
		if err := s.db.Where("run_id = ? AND id > ?", runID, lastID).
			Order("id ASC").Find(&fills).Error; err != nil {
			if s.logger != nil {
				s.logger.Error("stream query failed", zap.Error(err))
			}
			continue
		}
		for _, fill := range fills {
			if err := conn.WriteJSON(fill); err != nil {
				return
			}
			lastID = fill.ID
		}
	}
}
