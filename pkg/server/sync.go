package server

import (
	"net/http"
	"time"

	"github.com/mwalczyk/priceradar/internal/ingest"
)

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ingest.SyncStatus(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"user":            status.User,
		"contributions":   status.Contributions,
		"recent_activity": status.Recent,
	})
}

func (s *Server) handleSyncSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ingest.DatabaseSummary(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) handleSyncChanges(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r.URL.Query().Get("hours"))
	if hours <= 0 {
		hours = 24
	}
	if hours > 168 {
		hours = 168
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	changes, err := s.ingest.RecentChanges(r.Context(), since, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"changes": changes,
		"count":   len(changes),
		"hours":   hours,
		"since":   since.Format(time.RFC3339),
	})
}

func (s *Server) handleFullSync(w http.ResponseWriter, r *http.Request) {
	var payload ingest.SyncPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}

	report, err := s.ingest.FullSync(r.Context(), userID(r), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"products": report.Products,
		"links":    report.Links,
		"prices":   report.Prices,
	})
}
