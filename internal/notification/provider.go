package notification

import (
	"context"
	"strings"

	"github.com/k3a/html2text"
)

// Provider defines a push delivery backend integrated into the notification
// package. Implementations must be safe for concurrent use. Delivery is
// best-effort: a failed Send is logged by the dispatcher and never retried.
type Provider interface {
	GetName() string
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
	SupportsType(notifType Type) bool
	IsEnabled() bool
}

// supportedTypeSet builds the type filter for a provider. An empty list
// means all types.
func supportedTypeSet(types []string) map[Type]bool {
	set := map[Type]bool{}
	if len(types) == 0 {
		set[TypeError] = true
		set[TypeWarning] = true
		set[TypeInfo] = true
		set[TypeCall] = true
		set[TypeSystem] = true
		return set
	}
	for _, t := range types {
		set[Type(strings.ToLower(strings.TrimSpace(t)))] = true
	}
	return set
}

// plainText flattens HTML-bearing notification text for plain-text channels
// (desktop toasts and chat services).
func plainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	return strings.TrimSpace(html2text.HTML2Text(s))
}
