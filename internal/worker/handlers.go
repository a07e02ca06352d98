package worker

import (
	"context"
	"fmt"
	"time"

	"webpush-agent/internal/router"
	"webpush-agent/internal/state"
	"webpush-agent/pkg/push"
)

// Registration returns the durable registration record, or nil when the
// worker has never been registered.
func (w *Worker) Registration(ctx context.Context) (*Registration, error) {
	var reg Registration
	if err := w.store.Load(ctx, registrationKey, &reg); err != nil {
		if state.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}
	return &reg, nil
}

// Register runs the install and activate sequence. Install requests
// immediate activation, so a successful install proceeds straight through
// waiting to active without waiting for old instances to wind down.
// Registering an already-active worker with the same cache generation is
// a no-op.
func (w *Worker) Register(ctx context.Context) error {
	reg, err := w.Registration(ctx)
	if err != nil {
		return err
	}
	if reg != nil && reg.State == StateActive && reg.CacheName == w.cacheName {
		w.logger.Debug("Worker already active", "cache", w.cacheName)
		return nil
	}

	if err := w.setState(ctx, StateInstalling); err != nil {
		return err
	}
	if err := w.dispatcher.waitUntil(ctx, "install", w.HandleInstall); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	// skipWaiting: record the waiting state for observability, then
	// activate immediately instead of holding the new version back.
	if err := w.setState(ctx, StateWaiting); err != nil {
		return err
	}
	if err := w.setState(ctx, StateActivating); err != nil {
		return err
	}
	if err := w.dispatcher.waitUntil(ctx, "activate", w.HandleActivate); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return w.setState(ctx, StateActive)
}

func (w *Worker) setState(ctx context.Context, s RegState) error {
	reg := Registration{
		State:     s,
		Scope:     w.scope,
		CacheName: w.cacheName,
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.store.Save(ctx, registrationKey, &reg); err != nil {
		return fmt.Errorf("save registration state %s: %w", s, err)
	}
	w.logger.Info("Registration state changed", "state", s, "cache", w.cacheName)
	return nil
}

// HandleInstall populates the current cache generation with the shell
// manifest. A precache failure fails the install; the platform retries
// installation later.
func (w *Worker) HandleInstall(ctx context.Context) error {
	c, err := w.caches.Open(w.cacheName)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	manifest := append([]string(nil), w.manifest...)
	if w.shellURL != "" {
		assets, err := w.caches.DiscoverAssets(ctx, w.shellURL)
		if err != nil {
			// Discovery is best-effort; the configured manifest still
			// gets cached.
			w.logger.Warn("Shell asset discovery failed", "url", w.shellURL, "error", err)
		} else {
			manifest = append(manifest, assets...)
		}
	}

	if err := c.AddAll(ctx, manifest); err != nil {
		return fmt.Errorf("populate cache %s: %w", w.cacheName, err)
	}
	return nil
}

// HandleActivate sweeps stale cache generations and claims the open
// windows. Sweep failures are logged and skipped so partial cleanup never
// blocks activation; the next version bump retries them.
func (w *Worker) HandleActivate(ctx context.Context) error {
	names, err := w.caches.Keys()
	if err != nil {
		w.logger.Warn("Failed to enumerate cache generations", "error", err)
		names = nil
	}

	var deleted int
	for _, name := range names {
		if name == w.cacheName {
			continue
		}
		if _, err := w.caches.Delete(name); err != nil {
			w.logger.Warn("Failed to delete stale cache", "name", name, "error", err)
			continue
		}
		deleted++
	}

	claimed := w.registry.Claim(ctx)
	w.logger.Info("Worker activated",
		"cache", w.cacheName,
		"stale_deleted", deleted,
		"clients_claimed", claimed)
	return nil
}

// Push dispatches a push event with its lifetime extended until display
// settles.
func (w *Worker) Push(ctx context.Context, ev PushEvent) error {
	return w.dispatcher.waitUntil(ctx, "push", func(ctx context.Context) error {
		return w.HandlePush(ctx, ev)
	})
}

// HandlePush receives one push event and shows a notification for it.
// Every failure mode resolves to either a fallback notification or a
// logged drop; the handler itself never fails on payload or display
// problems, because the transport cannot redeliver.
func (w *Worker) HandlePush(ctx context.Context, ev PushEvent) error {
	if len(ev.Data) == 0 {
		w.logger.Info("Push without payload, nothing to show", "id", ev.ID)
		return nil
	}

	notice := push.Normalize(ev.Data)
	if notice.Fallback {
		w.logger.Warn("Push payload unparsable, showing fallback",
			"id", ev.ID,
			"bytes", len(ev.Data))
	}

	title, opts := notice.Display()
	if _, err := w.surface.Show(ctx, title, opts, notice); err != nil {
		w.logger.Warn("Notification display failed, retrying with minimal options",
			"id", ev.ID,
			"error", err)

		minimal := push.Options{Body: opts.Body}
		if _, err := w.surface.Show(ctx, title, minimal, notice); err != nil {
			w.logger.Error("Notification dropped after fallback display failed",
				"id", ev.ID,
				"error", err)
		}
	}
	return nil
}

// Click dispatches a notification click with its lifetime extended until
// navigation settles.
func (w *Worker) Click(ctx context.Context, ev ClickEvent) error {
	return w.dispatcher.waitUntil(ctx, "notificationclick", func(ctx context.Context) error {
		return w.HandleClick(ctx, ev)
	})
}

// HandleClick closes the notification, resolves the target URL, and
// focuses an existing window at it or opens a new one.
func (w *Worker) HandleClick(ctx context.Context, ev ClickEvent) error {
	// Close first: a notification left open can block new ones under the
	// same tag.
	shown, ok := w.surface.Close(ev.NotificationID)
	if !ok {
		w.logger.Warn("Click for unknown notification", "id", ev.NotificationID)
		return nil
	}

	target := router.Resolve(shown.Notice, ev.Action)
	client, opened, err := w.nav.FocusOrOpen(ctx, target)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}

	w.logger.Info("Notification click routed",
		"id", ev.NotificationID,
		"action", ev.Action,
		"target", target,
		"client", client.ID,
		"opened", opened)
	return nil
}

// Close handles a dismissal. Telemetry only; it never fails.
func (w *Worker) Close(ctx context.Context, ev CloseEvent) error {
	return w.dispatcher.waitUntil(ctx, "notificationclose", func(ctx context.Context) error {
		return w.HandleClose(ctx, ev)
	})
}

// HandleClose records the dismissal.
func (w *Worker) HandleClose(_ context.Context, ev CloseEvent) error {
	if shown, ok := w.surface.Close(ev.NotificationID); ok {
		w.logger.Info("Notification dismissed",
			"id", ev.NotificationID,
			"tag", shown.Options.Tag,
			"type", shown.Notice.Type)
	}
	return nil
}
