// Package display renders user-visible notifications through a pluggable
// provider and tracks the set currently on screen so tag replacement and
// click handling behave the way a notification tray does.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"webpush-agent/pkg/push"
)

// maxActions is the largest number of quick actions one notification may
// carry. Showing more is an error, mirroring platform notification trays.
const maxActions = 2

// Provider delivers a rendered notification to wherever the user sees it.
type Provider interface {
	Name() string
	Send(ctx context.Context, title string, opts push.Options) error
}

// Shown is one notification currently on screen.
type Shown struct {
	ID      string
	Title   string
	Options push.Options
	Notice  push.Notice
	ShownAt time.Time
}

// Surface owns the visible notification set. It is the platform side of
// showNotification: validation, tag replacement, and provider fan-out.
type Surface struct {
	mu       sync.Mutex
	provider Provider
	logger   *slog.Logger
	active   map[string]*Shown // by notification id
	byTag    map[string]string // tag -> notification id
}

// New creates a surface backed by the given provider.
func New(provider Provider, logger *slog.Logger) *Surface {
	return &Surface{
		provider: provider,
		logger:   logger,
		active:   make(map[string]*Shown),
		byTag:    make(map[string]string),
	}
}

// Show displays a notification. A non-empty tag replaces any notification
// already shown under the same tag instead of stacking a second one.
func (s *Surface) Show(ctx context.Context, title string, opts push.Options, notice push.Notice) (*Shown, error) {
	if len(opts.Actions) > maxActions {
		return nil, fmt.Errorf("display: %d actions exceeds the limit of %d", len(opts.Actions), maxActions)
	}

	if err := s.provider.Send(ctx, title, opts); err != nil {
		return nil, fmt.Errorf("display via %s: %w", s.provider.Name(), err)
	}

	shown := &Shown{
		ID:      uuid.NewString(),
		Title:   title,
		Options: opts,
		Notice:  notice,
		ShownAt: time.Now().UTC(),
	}

	s.mu.Lock()
	replaced := false
	if opts.Tag != "" {
		if oldID, ok := s.byTag[opts.Tag]; ok {
			delete(s.active, oldID)
			replaced = true
		}
		s.byTag[opts.Tag] = shown.ID
	}
	s.active[shown.ID] = shown
	s.mu.Unlock()

	s.logger.Info("Notification shown",
		"id", shown.ID,
		"title", title,
		"tag", opts.Tag,
		"replaced", replaced,
		"provider", s.provider.Name())
	return shown, nil
}

// Close removes a notification from the surface. Closing an unknown id is
// not an error; the notification may already have been replaced.
func (s *Surface) Close(id string) (*Shown, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shown, ok := s.active[id]
	if !ok {
		return nil, false
	}
	delete(s.active, id)
	if shown.Options.Tag != "" && s.byTag[shown.Options.Tag] == id {
		delete(s.byTag, shown.Options.Tag)
	}
	return shown, true
}

// Get returns a shown notification by id.
func (s *Surface) Get(id string) (*Shown, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shown, ok := s.active[id]
	return shown, ok
}

// Active returns the notifications currently on screen.
func (s *Surface) Active() []*Shown {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Shown, 0, len(s.active))
	for _, shown := range s.active {
		out = append(out, shown)
	}
	return out
}
