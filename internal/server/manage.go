package server

import (
	"encoding/json"
	"net/http"

	"webpush-agent/internal/worker"
)

// handleWindows lists and opens windows, standing in for the browser tabs
// the worker routes clicks into.
func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.logger, http.StatusOK, s.registry.List(r.Context()))
	case http.MethodPost:
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		c := s.registry.Add(req.URL)
		writeJSON(w, s.logger, http.StatusCreated, c)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleClick reports a user click on a shown notification.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		NotificationID string `json:"notification_id"`
		Action         string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	ev := worker.ClickEvent{NotificationID: req.NotificationID, Action: req.Action}
	if err := s.worker.Click(r.Context(), ev); err != nil {
		s.logger.Error("Click event failed", "id", req.NotificationID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClose reports a dismissal.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		NotificationID string `json:"notification_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := s.worker.Close(r.Context(), worker.CloseEvent{NotificationID: req.NotificationID}); err != nil {
		s.logger.Error("Close event failed", "id", req.NotificationID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
