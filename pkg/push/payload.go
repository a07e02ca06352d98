package push

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Display defaults used when a payload omits a field or cannot be parsed
// at all. Every field access on an incoming payload has one of these
// behind it.
const (
	DefaultTitle = "New notification"
	DefaultBody  = "You have a new notification"
	DefaultIcon  = "/static/icons/icon-192.png"
	DefaultBadge = "/static/icons/badge-72.png"
)

// PriorityHigh marks notifications that should stay on screen until the
// user interacts with them.
const PriorityHigh = "high"

// Data is the free-form object carried inside a push payload. All fields
// are optional and untrusted; identifiers may arrive as numbers or strings.
type Data struct {
	NotificationType string `json:"notification_type"`
	NotificationID   any    `json:"notification_id"`
	URL              string `json:"url"`
	Link             string `json:"link"`
	ChatID           string `json:"chat_id"`
	RelatedObjectID  any    `json:"related_object_id"`
	Priority         string `json:"priority"`
}

// Payload is the wire shape of one push event. No field is required and the
// whole body may be absent or malformed; use Normalize to obtain a shape
// that is safe to read.
type Payload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Message string   `json:"message"` // Alias for body used by older senders
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// Notice is the fully-defaulted view of one push event. Every downstream
// consumer reads this concrete shape instead of re-deriving defaults from
// the raw payload.
type Notice struct {
	Title    string
	Body     string
	Icon     string
	Badge    string
	Type     string // notification_type, "" when absent
	ID       string // notification_id rendered as a string, "" when absent
	Link     string // explicit data.link or data.url, "" when absent
	ChatID   string
	Related  string // related_object_id rendered as a string
	Priority string
	Custom   []Action // actions supplied by the sender, overriding the per-type defaults
	Fallback bool     // true when the payload could not be parsed
}

// Normalize parses raw push data and merges it over the defaults. A nil or
// empty body and any parse failure yield the generic fallback notice; this
// function never fails, because a push that reached us must still surface
// something to the user.
func Normalize(raw []byte) Notice {
	if len(raw) == 0 {
		return FallbackNotice()
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return FallbackNotice()
	}
	return p.Notice()
}

// FallbackNotice is what gets displayed when a payload is absent or
// unparsable.
func FallbackNotice() Notice {
	return Notice{
		Title:    DefaultTitle,
		Body:     DefaultBody,
		Icon:     DefaultIcon,
		Badge:    DefaultBadge,
		Fallback: true,
	}
}

// Notice converts a parsed payload into its defaulted view.
func (p *Payload) Notice() Notice {
	n := Notice{
		Title:    strings.TrimSpace(p.Title),
		Body:     strings.TrimSpace(p.Body),
		Icon:     p.Icon,
		Badge:    p.Badge,
		Type:     p.Data.NotificationType,
		ID:       stringID(p.Data.NotificationID),
		ChatID:   p.Data.ChatID,
		Related:  stringID(p.Data.RelatedObjectID),
		Priority: p.Data.Priority,
		Custom:   p.Actions,
	}

	if n.Body == "" {
		n.Body = strings.TrimSpace(p.Message)
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Body == "" {
		n.Body = DefaultBody
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadge
	}

	// An explicit link wins over url when both are present.
	n.Link = p.Data.Link
	if n.Link == "" {
		n.Link = p.Data.URL
	}

	return n
}

// stringID renders an identifier that may arrive as a JSON number or string.
func stringID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case float64:
		// JSON numbers decode as float64; identifiers are integral.
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}

// Options are the display options computed for one notice.
type Options struct {
	Body               string
	Icon               string
	Badge              string
	Tag                string // Reused tags replace an existing notification instead of stacking
	RequireInteraction bool
	Actions            []Action
}

// Display computes the title and options for showing a notice. The tag is
// derived from the notification id so a repeat push for the same logical
// notification replaces the one on screen.
func (n Notice) Display() (title string, opts Options) {
	opts = Options{
		Body:               n.Body,
		Icon:               n.Icon,
		Badge:              n.Badge,
		RequireInteraction: n.Priority == PriorityHigh,
		Actions:            n.Actions(),
	}
	if n.ID != "" {
		opts.Tag = "notification-" + n.ID
	}
	return n.Title, opts
}

// Actions returns the quick actions for the notice. Sender-supplied actions
// win; otherwise message notifications get view/reply buttons, other
// recognized types get a single open button, and unknown types get none.
func (n Notice) Actions() []Action {
	if len(n.Custom) > 0 {
		return n.Custom
	}
	switch n.Type {
	case "message":
		return []Action{
			{Action: "view", Title: "View"},
			{Action: "reply", Title: "Reply"},
		}
	case "order", "payment", "review":
		return []Action{
			{Action: "open", Title: "Open"},
		}
	default:
		return nil
	}
}
