package notification

import (
	"context"

	"github.com/gen2brain/beeep"
)

// BeeepProvider raises OS desktop notifications through gen2brain/beeep.
// Errors and warnings use the alerting variant so the desktop environment
// can make them audible.
type BeeepProvider struct {
	name    string
	enabled bool
	types   map[Type]bool
}

// NewBeeepProvider creates a desktop notification provider.
func NewBeeepProvider(enabled bool, supportedTypes []string) *BeeepProvider {
	return &BeeepProvider{
		name:    "desktop",
		enabled: enabled,
		types:   supportedTypeSet(supportedTypes),
	}
}

func (b *BeeepProvider) GetName() string          { return b.name }
func (b *BeeepProvider) IsEnabled() bool          { return b.enabled }
func (b *BeeepProvider) SupportsType(t Type) bool { return b.types[t] }

func (b *BeeepProvider) ValidateConfig() error { return nil }

func (b *BeeepProvider) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	title := plainText(n.Title)
	message := plainText(n.Message)

	switch n.Type {
	case TypeError, TypeWarning:
		return beeep.Alert(title, message, "")
	default:
		return beeep.Notify(title, message, "")
	}
}
