package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Flags are effectively shared between users: every connected client gets the
// availability broadcast, so the list endpoint returns all of them and lets
// the UI filter. The stored userId is informational only.

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authHeader(w, r); !ok {
		return
	}
	s.respond(w, http.StatusOK, s.flags.ListAll())
}

func (s *Server) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req model.FlaggedItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.ID == "" || req.Date == "" || req.ArticleID == 0 || req.UserID == "" || req.Cutoff == "" {
		s.respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	req.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	added, err := s.flags.Add(req)
	if err != nil {
		s.log.WithError(err).Error("Could not persist flag")
		s.respondError(w, http.StatusInternalServerError, "Could not save flag")
		return
	}
	if !added {
		s.respondError(w, http.StatusConflict, "Flag already exists")
		return
	}
	s.log.WithFields(logrus.Fields{"flag": req.ID, "user": req.UserID}).Info("Flag added")
	s.respond(w, http.StatusCreated, map[string]bool{"success": true})
}

func (s *Server) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.flags.Remove(id)
	if err != nil {
		s.log.WithError(err).Error("Could not persist flag removal")
		s.respondError(w, http.StatusInternalServerError, "Could not remove flag")
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "Flag not found")
		return
	}
	s.log.WithField("flag", id).Info("Flag removed")
	s.respond(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePollResult(w http.ResponseWriter, r *http.Request) {
	var req model.PollResult
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.FlagID == "" {
		s.respondError(w, http.StatusBadRequest, "Missing flagId")
		return
	}
	s.orch.HandlePollResult(req.FlagID, req.IsAvailable)
	s.respond(w, http.StatusOK, map[string]bool{"success": true})
}

// handleEvents is the persistent push channel. The handler goroutine is the
// only writer to the connection; it drains the client's message channel until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.registry.Register(r.URL.Query().Get("userId"))
	defer s.registry.Deregister(client.ID)

	s.registry.SendTo(client.ID, model.EventConnected, model.Connected{ClientID: client.ID})

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-client.Messages():
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
