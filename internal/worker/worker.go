// Package worker implements the background worker: install and activate
// (cache lifecycle), push receive and display, and notification click and
// close routing. Handlers are plain functions over constructed events;
// the dispatcher supplies the platform's event-lifetime guarantee.
package worker

import (
	"log/slog"
	"time"

	"webpush-agent/internal/cache"
	"webpush-agent/internal/clients"
	"webpush-agent/internal/display"
	"webpush-agent/internal/router"
	"webpush-agent/internal/state"
)

// RegState is the worker registration state.
type RegState string

const (
	StateInstalling RegState = "installing"
	StateWaiting    RegState = "waiting"
	StateActivating RegState = "activating"
	StateActive     RegState = "active"
)

const registrationKey = "registration.json"

// Registration is the durable registration record.
type Registration struct {
	State     RegState  `json:"state"`
	Scope     string    `json:"scope"`
	CacheName string    `json:"cache_name"` // current cache generation
	UpdatedAt time.Time `json:"updated_at"`
}

// Config wires a worker.
type Config struct {
	Store    *state.Store
	Caches   *cache.Storage
	Surface  *display.Surface
	Registry *clients.Registry
	Logger   *slog.Logger

	Scope     string   // registration scope, "/" by default
	CacheName string   // current cache generation name, carries the version tag
	Manifest  []string // shell resources to precache
	ShellURL  string   // optional: discover additional assets from this page

	// Budget bounds each event handler's extended lifetime.
	Budget time.Duration
}

// Worker owns the event handlers. It keeps no mutable state of its own:
// everything a handler needs is read from the store, the cache storage, or
// the surface at entry.
type Worker struct {
	store      *state.Store
	caches     *cache.Storage
	surface    *display.Surface
	registry   *clients.Registry
	nav        *router.Navigator
	logger     *slog.Logger
	dispatcher *dispatcher

	scope     string
	cacheName string
	manifest  []string
	shellURL  string
}

// New creates a worker from the config.
func New(cfg *Config) *Worker {
	scope := cfg.Scope
	if scope == "" {
		scope = "/"
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &Worker{
		store:      cfg.Store,
		caches:     cfg.Caches,
		surface:    cfg.Surface,
		registry:   cfg.Registry,
		nav:        router.NewNavigator(cfg.Registry, cfg.Logger),
		logger:     cfg.Logger,
		dispatcher: newDispatcher(budget, cfg.Logger),
		scope:      scope,
		cacheName:  cfg.CacheName,
		manifest:   cfg.Manifest,
		shellURL:   cfg.ShellURL,
	}
}
