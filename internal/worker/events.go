package worker

import "time"

// PushEvent is one received push message. Data is the decrypted body and
// may be empty: a push with no payload is a valid ping, not an error.
type PushEvent struct {
	ID         string // delivery id, for log correlation only
	Data       []byte
	TTL        int
	ReceivedAt time.Time
}

// ClickEvent is a user click on a shown notification. Action is the named
// quick-action button, or empty for a click on the notification body.
type ClickEvent struct {
	NotificationID string
	Action         string
}

// CloseEvent is a dismissal without a click.
type CloseEvent struct {
	NotificationID string
}
