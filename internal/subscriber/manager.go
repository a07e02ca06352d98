// Package subscriber implements the subscription manager: the high-level
// flow that registers the worker, obtains permission, creates the push
// subscription, and keeps the backend in sync with it.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"webpush-agent/internal/backend"
	"webpush-agent/internal/platform"
	"webpush-agent/internal/state"
	"webpush-agent/pkg/push"
)

// Outcome is the result of a permission request as seen by callers.
type Outcome string

const (
	OutcomeGranted     Outcome = "granted"
	OutcomeDenied      Outcome = "denied"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeError       Outcome = "error"
)

const serverKeyKey = "server_key.json"

type serverKeyRecord struct {
	Key       string    `json:"key"` // base64url VAPID public key
	FetchedAt time.Time `json:"fetched_at"`
}

// Registrar installs and activates the background worker.
type Registrar interface {
	Register(ctx context.Context) error
}

// Config wires a manager.
type Config struct {
	Store       *state.Store
	Permissions *platform.Permissions
	PushManager *platform.PushManager
	Backend     *backend.Client
	Registrar   Registrar
	Logger      *slog.Logger

	// Supported disables the whole feature when false. The real platform
	// computes this from capability detection; here the operator decides.
	Supported bool
}

// Manager drives the subscription lifecycle. Every operation degrades to
// its failure value instead of panicking, so callers can run the flow
// unconditionally.
type Manager struct {
	store       *state.Store
	permissions *platform.Permissions
	pushManager *platform.PushManager
	backend     *backend.Client
	registrar   Registrar
	logger      *slog.Logger

	supported   bool
	initialized bool
}

// New creates a manager. Support is fixed at construction.
func New(cfg *Config) *Manager {
	return &Manager{
		store:       cfg.Store,
		permissions: cfg.Permissions,
		pushManager: cfg.PushManager,
		backend:     cfg.Backend,
		registrar:   cfg.Registrar,
		logger:      cfg.Logger,
		supported:   cfg.Supported,
	}
}

// Supported reports whether push is available at all.
func (m *Manager) Supported() bool { return m.supported }

// Initialize registers the worker and fetches the application server key.
// It reports success; failures are logged and leave the manager usable,
// so a later Subscribe can retry the whole flow.
func (m *Manager) Initialize(ctx context.Context) bool {
	if !m.supported {
		return false
	}
	if m.initialized {
		return true
	}

	if err := m.registrar.Register(ctx); err != nil {
		m.logger.Warn("Worker registration failed", "error", err)
		return false
	}

	if _, err := m.serverKey(ctx); err != nil {
		m.logger.Warn("Application server key unavailable", "error", err)
		return false
	}

	m.initialized = true
	m.logger.Info("Push subsystem initialized")
	return true
}

// serverKey returns the VAPID public key, fetching and persisting it on
// first use. A stored key survives backend outages on later runs.
func (m *Manager) serverKey(ctx context.Context) (string, error) {
	var rec serverKeyRecord
	if err := m.store.Load(ctx, serverKeyKey, &rec); err == nil && rec.Key != "" {
		return rec.Key, nil
	} else if err != nil && !state.IsNotFound(err) {
		m.logger.Warn("Failed to load stored server key", "error", err)
	}

	key, err := m.backend.VAPIDPublicKey(ctx)
	if err != nil {
		return "", err
	}

	rec = serverKeyRecord{Key: key, FetchedAt: time.Now().UTC()}
	if err := m.store.Save(ctx, serverKeyKey, &rec); err != nil {
		m.logger.Warn("Failed to persist server key", "error", err)
	}
	return key, nil
}

// RequestPermission runs the permission prompt flow.
func (m *Manager) RequestPermission(ctx context.Context) Outcome {
	if !m.supported {
		return OutcomeUnsupported
	}

	perm, err := m.permissions.Request(ctx)
	if err != nil {
		m.logger.Warn("Permission request failed", "error", err)
		return OutcomeError
	}
	switch perm {
	case platform.PermissionGranted:
		return OutcomeGranted
	case platform.PermissionDenied:
		return OutcomeDenied
	default:
		return OutcomeError
	}
}

// GetOrCreateSubscription returns the live subscription, creating one if
// none exists. Requires granted permission and a known server key; repeat
// calls return the same endpoint.
func (m *Manager) GetOrCreateSubscription(ctx context.Context) (*push.Subscription, error) {
	if !m.supported {
		return nil, errors.New("push is not supported")
	}
	if m.permissions.State(ctx) != platform.PermissionGranted {
		return nil, errors.New("notification permission not granted")
	}

	key, err := m.serverKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("application server key: %w", err)
	}
	raw, err := push.DecodeServerKey(key)
	if err != nil {
		return nil, fmt.Errorf("decode application server key: %w", err)
	}

	rec, err := m.pushManager.Subscribe(ctx, platform.SubscribeOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := rec.Subscription
	return &sub, nil
}

// Subscribe runs the full flow: initialize, prompt, create, register with
// the backend. It reports success.
func (m *Manager) Subscribe(ctx context.Context) bool {
	if !m.Initialize(ctx) {
		return false
	}
	if outcome := m.RequestPermission(ctx); outcome != OutcomeGranted {
		m.logger.Info("Subscription not created", "permission", outcome)
		return false
	}

	sub, err := m.GetOrCreateSubscription(ctx)
	if err != nil {
		m.logger.Warn("Failed to create subscription", "error", err)
		return false
	}

	if err := m.backend.Subscribe(ctx, sub); err != nil {
		m.logger.Warn("Failed to register subscription with backend", "error", err)
		return false
	}
	return true
}

// Unsubscribe tears the subscription down. It succeeds when there is
// nothing to remove; a failed server-side delete is logged but does not
// resurrect the local subscription, the server reconciles on next push.
func (m *Manager) Unsubscribe(ctx context.Context) bool {
	if !m.supported {
		return false
	}

	rec, err := m.pushManager.Subscription(ctx)
	if errors.Is(err, platform.ErrNoSubscription) {
		return true
	}
	if err != nil {
		m.logger.Warn("Failed to read subscription", "error", err)
		return false
	}

	// Capture the wire form before invalidating: the server identifies
	// the subscription by its JSON, which is gone once the record is.
	sub := rec.Subscription

	if _, err := m.pushManager.Unsubscribe(ctx); err != nil {
		m.logger.Warn("Failed to remove local subscription", "error", err)
		return false
	}

	if err := m.backend.Unsubscribe(ctx, &sub); err != nil {
		m.logger.Warn("Backend unsubscribe failed", "endpoint", sub.Endpoint, "error", err)
	}
	return true
}

// ListSubscriptions returns the subscriptions the backend holds. Failures
// yield an empty list.
func (m *Manager) ListSubscriptions(ctx context.Context) []push.Subscription {
	if !m.supported {
		return nil
	}
	subs, err := m.backend.Subscriptions(ctx)
	if err != nil {
		m.logger.Warn("Failed to list subscriptions", "error", err)
		return nil
	}
	return subs
}
