package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"webpush-agent/internal/platform"
	"webpush-agent/internal/worker"
)

// maxPushSize bounds one push message. RFC 8030 caps payloads at 4KB;
// the aes128gcm envelope adds a header and a 16-byte tag.
const maxPushSize = 8 << 10

// handlePush receives one push delivery at /wp/{token}. A delivery for a
// subscription that no longer exists answers 410 Gone so the sender stops
// using the endpoint, exactly as a push service reports invalidation.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := pathToken(r.URL.Path)
	if token == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	rec, err := s.subs.Subscription(r.Context())
	if errors.Is(err, platform.ErrNoSubscription) {
		http.Error(w, "Gone", http.StatusGone)
		return
	}
	if err != nil {
		s.logger.Error("Failed to load subscription", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if rec.Token != token {
		// A stale endpoint from a destroyed subscription.
		http.Error(w, "Gone", http.StatusGone)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushSize+1))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if len(body) > maxPushSize {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	data := body
	if r.Header.Get("Content-Encoding") == "aes128gcm" {
		data, err = rec.Decrypt(body)
		if err != nil {
			s.logger.Warn("Failed to decrypt push message", "error", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
	}

	ev := worker.PushEvent{
		ID:         uuid.NewString(),
		Data:       data,
		TTL:        parseTTL(r),
		ReceivedAt: time.Now().UTC(),
	}
	s.logger.Info("Push received",
		"id", ev.ID,
		"bytes", len(data),
		"ttl", ev.TTL,
		"encrypted", r.Header.Get("Content-Encoding") == "aes128gcm")

	if err := s.worker.Push(r.Context(), ev); err != nil {
		s.logger.Error("Push event failed", "id", ev.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
