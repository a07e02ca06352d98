// Package platform provides the runtime services the worker and the
// subscription manager are built on: the push manager that owns the
// subscription keys, the permission grant, and the incoming push
// transport. State lives in durable storage, never in handler globals.
package platform

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webpush-agent/internal/state"
	"webpush-agent/pkg/push"
)

const subscriptionKey = "subscription.json"

// ErrNoSubscription indicates no live subscription exists.
var ErrNoSubscription = errors.New("platform: no subscription")

// ErrUserVisibleOnly is returned when a subscription is requested without
// committing to user-visible pushes. Silent pushes are not supported.
var ErrUserVisibleOnly = errors.New("platform: subscriptions must set userVisibleOnly")

// ErrServerKeyMismatch is returned when a subscription exists for a
// different application server key. The caller must unsubscribe first;
// creating a second subscription would silently invalidate the first.
var ErrServerKeyMismatch = errors.New("platform: subscription exists with a different application server key")

// Record is the durable subscription record: the public subscription JSON
// plus the private material needed to decrypt incoming pushes. The server
// key is kept so key rotation can be detected.
type Record struct {
	Subscription push.Subscription `json:"subscription"`
	PrivateKey   string            `json:"private_key"` // base64url P-256 scalar
	ServerKey    string            `json:"server_key"`  // base64url applicationServerKey in use
	Token        string            `json:"token"`       // endpoint path token
	CreatedAt    time.Time         `json:"created_at"`
}

// SubscribeOptions mirror the platform subscribe call.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

// PushManager creates, reads, and destroys the push subscription. At most
// one subscription is live per agent; its keys are generated here and never
// leave durable storage.
type PushManager struct {
	store   *state.Store
	logger  *slog.Logger
	baseURL string // public base URL the endpoint is derived from
}

// NewPushManager creates a push manager whose endpoints live under
// baseURL + "/wp/".
func NewPushManager(store *state.Store, baseURL string, logger *slog.Logger) *PushManager {
	return &PushManager{
		store:   store,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Subscription returns the live subscription record, or ErrNoSubscription.
func (m *PushManager) Subscription(ctx context.Context) (*Record, error) {
	var rec Record
	if err := m.store.Load(ctx, subscriptionKey, &rec); err != nil {
		if state.IsNotFound(err) {
			return nil, ErrNoSubscription
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &rec, nil
}

// Subscribe returns the existing subscription when one is live for the same
// server key, otherwise generates fresh key material and persists a new
// record. Requesting a subscription for a different server key while one is
// live is an error.
func (m *PushManager) Subscribe(ctx context.Context, opts SubscribeOptions) (*Record, error) {
	if !opts.UserVisibleOnly {
		return nil, ErrUserVisibleOnly
	}
	if !push.ValidServerKey(opts.ApplicationServerKey) {
		return nil, push.ErrBadServerKey
	}

	serverKey := base64.RawURLEncoding.EncodeToString(opts.ApplicationServerKey)

	existing, err := m.Subscription(ctx)
	switch {
	case err == nil:
		if existing.ServerKey == serverKey {
			m.logger.Debug("Reusing existing subscription", "endpoint", existing.Subscription.Endpoint)
			return existing, nil
		}
		return nil, ErrServerKeyMismatch
	case errors.Is(err, ErrNoSubscription):
		// Fall through and create one.
	default:
		return nil, err
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate subscription key pair: %w", err)
	}

	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}

	token := uuid.NewString()
	rec := &Record{
		Subscription: push.Subscription{
			Endpoint: m.baseURL + "/wp/" + token,
			Keys: push.Keys{
				P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
				Auth:   base64.RawURLEncoding.EncodeToString(auth),
			},
		},
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
		ServerKey:  serverKey,
		Token:      token,
		CreatedAt:  time.Now().UTC(),
	}

	if err := m.store.Save(ctx, subscriptionKey, rec); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	m.logger.Info("Subscription created", "endpoint", rec.Subscription.Endpoint)
	return rec, nil
}

// Unsubscribe destroys the live subscription. Returns false when none
// existed, true when one was removed.
func (m *PushManager) Unsubscribe(ctx context.Context) (bool, error) {
	if _, err := m.Subscription(ctx); err != nil {
		if errors.Is(err, ErrNoSubscription) {
			return false, nil
		}
		return false, err
	}

	if err := m.store.Delete(ctx, subscriptionKey); err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}

	m.logger.Info("Subscription destroyed")
	return true, nil
}

// Invalidate drops the subscription record without treating its absence as
// an error. Used when the push service reports the endpoint as gone; the
// next use re-subscribes instead of retrying.
func (m *PushManager) Invalidate(ctx context.Context) error {
	return m.store.Delete(ctx, subscriptionKey)
}
