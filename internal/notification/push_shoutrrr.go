package notification

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/privacy"
)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr service URLs
// (telegram://, discord://, smtp:// and friends). Chat channels are plain
// text, so HTML in notification bodies is flattened before sending.
type ShoutrrrProvider struct {
	name    string
	enabled bool
	url     string
	types   map[Type]bool
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrProvider creates a chat provider for a single service URL.
func NewShoutrrrProvider(name string, enabled bool, url string, supportedTypes []string, timeout time.Duration) *ShoutrrrProvider {
	sp := &ShoutrrrProvider{
		name:    strings.TrimSpace(name),
		enabled: enabled,
		url:     strings.TrimSpace(url),
		types:   supportedTypeSet(supportedTypes),
		timeout: timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	return sp
}

func (s *ShoutrrrProvider) GetName() string          { return s.name }
func (s *ShoutrrrProvider) IsEnabled() bool          { return s.enabled }
func (s *ShoutrrrProvider) SupportsType(t Type) bool { return s.types[t] }

func (s *ShoutrrrProvider) ValidateConfig() error {
	if !s.enabled {
		return nil
	}
	if s.url == "" {
		return errors.NewStd("a service URL is required")
	}
	// Build sender to validate the URL
	sender, err := shoutrrr.CreateSender(s.url)
	if err != nil {
		// Wrap error to sanitize any URLs that may contain tokens/credentials
		return privacy.WrapError(err)
	}
	s.sender = sender
	if s.timeout > 0 {
		s.sender.Timeout = s.timeout
	}
	s.sender.SetLogger(log.New(io.Discard, "", 0))
	return nil
}

func (s *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if s.sender == nil {
		return errors.NewStd("shoutrrr sender not initialized")
	}
	_ = ctx // router handles its own timeouts

	body := plainText(n.Message)
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(plainText(n.Title))
	}
	return s.sendErr(s.sender.Send(body, &params))
}

// SendChatMessage delivers a bare chat line, the outbound contract the call
// tracker uses for lifecycle messages. Best-effort: false on any failure.
func (s *ShoutrrrProvider) SendChatMessage(text string) bool {
	if s.sender == nil || !s.enabled {
		return false
	}
	return s.sendErr(s.sender.Send(plainText(text), &stypes.Params{})) == nil
}

// sendErr folds the router's per-URL error slice into the first failure.
func (s *ShoutrrrProvider) sendErr(errs []error) error {
	for _, e := range errs {
		if e != nil {
			// Wrap error to sanitize any URLs that may contain tokens/credentials
			return privacy.WrapError(e)
		}
	}
	return nil
}
