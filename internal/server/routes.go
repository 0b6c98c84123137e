package server

import (
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/petervdpas/voyage/internal/agents"
	"github.com/petervdpas/voyage/internal/inventory"
	"github.com/petervdpas/voyage/internal/speech"
)

// GET /: liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":       "healthy",
		"architecture": runtime.GOARCH,
		"system":       runtime.GOOS,
		"message":      "Voyage server is running",
	})
}

// GET /architecture
func (s *Server) handleArchitecture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"architecture": runtime.GOARCH,
		"system":       runtime.GOOS,
		"go_version":   runtime.Version(),
		"num_cpu":      runtime.NumCPU(),
	})
}

type speakRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// POST /api/speak: text to audio/mpeg through the synthesis provider.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if decodeJSON(w, r, &req) != nil {
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing text")
		return
	}
	if req.VoiceID == "" {
		req.VoiceID = s.d.Voices.For("")
	}

	if s.d.Speech == nil {
		writeError(w, http.StatusInternalServerError, "Missing API Key")
		return
	}
	audio, err := s.d.Speech.Synthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		var se *speech.StatusError
		switch {
		case errors.Is(err, speech.ErrMissingAPIKey):
			writeError(w, http.StatusInternalServerError, "Missing API Key")
		case errors.As(err, &se):
			log.Warnf("speech provider returned %d: %s", se.StatusCode, se.Body)
			writeError(w, se.StatusCode, "ElevenLabs API Error")
		default:
			log.Warnf("speech: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Write(audio)
}

// POST /generate-inventory
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if s.d.Inventory == nil {
		writeError(w, http.StatusServiceUnavailable, "inventory unavailable")
		return
	}
	var req inventory.Request
	if decodeJSON(w, r, &req) != nil {
		return
	}
	items, err := s.d.Inventory.Generate(r.Context(), req)
	if err != nil {
		if errors.Is(err, inventory.ErrEmptyCatalog) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Warnf("generate inventory: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, items)
}

// GET /api/sessions: live sessions and their occupancy.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.d.Registry.List())
}

// GET /api/sessions/{session}/roles: a role_status frame for the session.
func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.d.Registry.Status(r.PathValue("session")))
}

// GET /api/agents
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	list := []agents.Info{}
	if s.d.Agents != nil {
		list = append(list, s.d.Agents.Agents()...)
	}
	writeJSON(w, list)
}
