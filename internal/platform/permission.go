package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"webpush-agent/internal/state"
)

// Permission is the user's notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

const permissionKey = "permission.json"

type permissionRecord struct {
	State     Permission `json:"state"`
	DecidedAt time.Time  `json:"decided_at"`
}

// Permissions tracks the notification permission grant. Once decided, the
// decision is durable; further prompts return the recorded state without
// prompting again.
type Permissions struct {
	store  *state.Store
	logger *slog.Logger
	// outcome is what an actual prompt resolves to. A headless agent has
	// no user to ask, so the operator decides up front.
	outcome Permission
}

// NewPermissions creates the permission tracker. promptOutcome is the state
// a prompt resolves to when no decision has been recorded yet.
func NewPermissions(store *state.Store, promptOutcome Permission, logger *slog.Logger) *Permissions {
	return &Permissions{
		store:   store,
		outcome: promptOutcome,
		logger:  logger,
	}
}

// State returns the current permission state without prompting.
func (p *Permissions) State(ctx context.Context) Permission {
	var rec permissionRecord
	if err := p.store.Load(ctx, permissionKey, &rec); err != nil {
		if !state.IsNotFound(err) {
			p.logger.Warn("Failed to load permission state", "error", err)
		}
		return PermissionDefault
	}
	return rec.State
}

// Request triggers one permission prompt. A prior decision short-circuits;
// repeated denial never re-prompts.
func (p *Permissions) Request(ctx context.Context) (Permission, error) {
	if current := p.State(ctx); current != PermissionDefault {
		return current, nil
	}

	decided := p.outcome
	if decided != PermissionGranted && decided != PermissionDenied {
		decided = PermissionDenied
	}

	rec := permissionRecord{State: decided, DecidedAt: time.Now().UTC()}
	if err := p.store.Save(ctx, permissionKey, &rec); err != nil {
		return PermissionDefault, fmt.Errorf("save permission decision: %w", err)
	}

	p.logger.Info("Notification permission decided", "state", decided)
	return decided, nil
}

// Reset clears the recorded decision. Used by the management surface and
// by tests; a browser exposes the same thing through site settings.
func (p *Permissions) Reset(ctx context.Context) error {
	return p.store.Delete(ctx, permissionKey)
}
