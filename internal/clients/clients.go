// Package clients tracks the open application windows the worker controls.
// It is the platform side of the client registry: enumerate, focus, open,
// claim. Windows are runtime state owned by the platform process, so the
// registry is in-memory; handlers hold no references between events.
package clients

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoClient indicates the referenced window no longer exists.
var ErrNoClient = errors.New("clients: no such client")

// Client is one open application window.
type Client struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Focused    bool      `json:"focused"`
	Controlled bool      `json:"controlled"` // true once the active worker has claimed it
	OpenedAt   time.Time `json:"opened_at"`
	focusedAt  time.Time
}

// Registry holds the open windows.
type Registry struct {
	mu      sync.Mutex
	logger  *slog.Logger
	clients map[string]*Client
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Add registers a window the user opened themselves (as opposed to
// OpenWindow, which is the worker opening one).
func (r *Registry) Add(url string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Client{
		ID:       uuid.NewString(),
		URL:      url,
		OpenedAt: time.Now().UTC(),
	}
	r.clients[c.ID] = c
	r.logger.Debug("Client added", "id", c.ID, "url", url)
	return c
}

// Remove drops a closed window.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// List returns the open windows, focused and most recently focused first,
// matching the enumeration order handlers rely on.
func (r *Registry) List(_ context.Context) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Focused != out[j].Focused {
			return out[i].Focused
		}
		if !out[i].focusedAt.Equal(out[j].focusedAt) {
			return out[i].focusedAt.After(out[j].focusedAt)
		}
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return out
}

// Focus brings one window to the front.
func (r *Registry) Focus(_ context.Context, id string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.clients[id]
	if !ok {
		return nil, ErrNoClient
	}
	for _, c := range r.clients {
		c.Focused = false
	}
	target.Focused = true
	target.focusedAt = time.Now().UTC()

	r.logger.Debug("Client focused", "id", id, "url", target.URL)
	copied := *target
	return &copied, nil
}

// OpenWindow opens a new window at url and focuses it.
func (r *Registry) OpenWindow(_ context.Context, url string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		c.Focused = false
	}
	c := &Client{
		ID:        uuid.NewString(),
		URL:       url,
		Focused:   true,
		OpenedAt:  time.Now().UTC(),
		focusedAt: time.Now().UTC(),
	}
	r.clients[c.ID] = c

	r.logger.Info("Window opened", "id", c.ID, "url", url)
	copied := *c
	return &copied, nil
}

// Claim marks every open window as controlled by the active worker.
// Returns how many windows were claimed.
func (r *Registry) Claim(_ context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		c.Controlled = true
	}
	return len(r.clients)
}
