package display

import (
	"context"
	"fmt"
	"io"
	"log"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"webpush-agent/pkg/push"
)

// ShoutrrrProvider delivers notifications to any service shoutrrr can
// address (desktop, Telegram, Discord, ntfy, ...), configured by URL.
type ShoutrrrProvider struct {
	sender *router.ServiceRouter
}

// NewShoutrrrProvider builds a provider for the given shoutrrr URLs. The
// URLs are validated up front so a misconfiguration fails at startup, not
// on the first push.
func NewShoutrrrProvider(urls ...string) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("shoutrrr: at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("shoutrrr: %w", err)
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrProvider{sender: sender}, nil
}

// Name identifies the provider in logs.
func (*ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send delivers the notification body with the title as the message title.
func (p *ShoutrrrProvider) Send(_ context.Context, title string, opts push.Options) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	errs := p.sender.Send(opts.Body, &params)
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("shoutrrr send: %w", err)
		}
	}
	return nil
}
