// Package router maps a clicked notification to an in-app target URL and
// drives the focus-or-open navigation over the client registry.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"webpush-agent/internal/clients"
	"webpush-agent/pkg/push"
)

// DefaultRoute is where clicks land when nothing more specific applies.
const DefaultRoute = "/notifications"

// typeRoutes is the canonical notification_type route table.
var typeRoutes = map[string]string{
	"message": "/messages",
	"order":   "/orders",
	"payment": "/payments",
	"review":  "/reviews",
}

// Resolve picks the target URL for a click, in priority order: a named
// action the user clicked, the payload's explicit link, then the
// notification type's default route.
func Resolve(n push.Notice, action string) string {
	switch action {
	case "view", "reply", "view-message":
		return messagesTarget(n)
	case "view-order":
		if n.Related != "" {
			return "/orders/" + n.Related
		}
		return "/orders"
	}

	if n.Link != "" {
		return n.Link
	}
	if route, ok := typeRoutes[n.Type]; ok {
		return route
	}
	return DefaultRoute
}

// messagesTarget builds the conversation URL for message notifications.
// The chat id addresses the conversation directly; the related object id
// is the message record and works as a fallback.
func messagesTarget(n push.Notice) string {
	if n.ChatID != "" {
		return "/messages?chat=" + url.QueryEscape(n.ChatID)
	}
	if n.Related != "" {
		return "/messages/" + n.Related
	}
	return "/messages"
}

// Navigator performs focus-or-open navigation: an already-open window at
// the target is focused instead of opening a duplicate.
type Navigator struct {
	registry *clients.Registry
	logger   *slog.Logger
}

// NewNavigator creates a navigator over the registry.
func NewNavigator(registry *clients.Registry, logger *slog.Logger) *Navigator {
	return &Navigator{registry: registry, logger: logger}
}

// FocusOrOpen navigates to target. Returns the window now showing it and
// whether a new window had to be opened.
func (nav *Navigator) FocusOrOpen(ctx context.Context, target string) (*clients.Client, bool, error) {
	for _, c := range nav.registry.List(ctx) {
		if sameTarget(c.URL, target) {
			focused, err := nav.registry.Focus(ctx, c.ID)
			if err != nil {
				// The window closed between List and Focus; open instead.
				break
			}
			nav.logger.Info("Focused existing window", "id", focused.ID, "url", focused.URL)
			return focused, false, nil
		}
	}

	opened, err := nav.registry.OpenWindow(ctx, target)
	if err != nil {
		return nil, false, fmt.Errorf("open window at %s: %w", target, err)
	}
	return opened, true, nil
}

// sameTarget compares a window's URL with a site-relative target,
// ignoring scheme and host on the window side.
func sameTarget(clientURL, target string) bool {
	cu, err := url.Parse(clientURL)
	if err != nil {
		return false
	}
	tu, err := url.Parse(target)
	if err != nil {
		return false
	}
	return cu.Path == tu.Path && cu.Query().Encode() == tu.Query().Encode()
}
