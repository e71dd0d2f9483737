package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/syncwatch/go/internal/session"
)

// SessionInfo is the public part of the session descriptor.
type SessionInfo struct {
	Slug             string            `json:"slug"`
	Title            string            `json:"title,omitempty"`
	Formats          []string          `json:"formats"`
	Streams          map[string]string `json:"streams"`
	StartTime        float64           `json:"startTime"`
	PasswordRequired bool              `json:"passwordRequired"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	d := s.descriptor
	info := SessionInfo{
		Slug:             d.Slug,
		Title:            d.Title,
		Formats:          d.Formats(),
		Streams:          make(map[string]string),
		StartTime:        d.StartTime,
		PasswordRequired: d.LeaderPassword != "",
	}
	for _, f := range info.Formats {
		info.Streams[f] = d.Stream(f)
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	var state session.StateView
	if err := s.view(r.Context(), func() { state = s.room.State() }); err != nil {
		log.Error().Err(err).Msg("failed to read session state")
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Service) handleViewers(w http.ResponseWriter, r *http.Request) {
	var summary session.Summary
	if err := s.view(r.Context(), func() { summary = s.room.Viewers() }); err != nil {
		log.Error().Err(err).Msg("failed to read viewer summary")
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
