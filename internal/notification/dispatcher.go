package notification

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/carebell/carebell-go/internal/conf"
)

// defaultDispatchTimeout bounds a single provider delivery when the provider
// carries no timeout of its own.
const defaultDispatchTimeout = 30 * time.Second

// maxConcurrentDeliveries caps in-flight provider sends across all
// notifications. At the cap a delivery is dropped and counted rather than
// queued: pushes are best-effort and a backlog of stale banners helps nobody.
const maxConcurrentDeliveries = 8

// ProviderStats counts deliveries for one provider.
type ProviderStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// PushDispatcher subscribes to the notification service and forwards each
// notification to the providers that accept its type. Each delivery runs in
// its own goroutine so one slow endpoint cannot delay the others; failures
// are logged and counted, never retried.
type PushDispatcher struct {
	service   *Service
	providers []Provider
	logger    *slog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	sem       *semaphore.Weighted

	statsMu sync.Mutex
	stats   map[string]*ProviderStats
}

// NewPushDispatcher builds a dispatcher from the notification settings.
// Providers with invalid configuration are logged and skipped so one bad
// entry cannot take down the rest.
func NewPushDispatcher(settings *conf.NotificationSettings, service *Service) *PushDispatcher {
	d := &PushDispatcher{
		service: service,
		logger:  getLoggerSafe("notification-push"),
		sem:     semaphore.NewWeighted(maxConcurrentDeliveries),
		stats:   make(map[string]*ProviderStats),
	}

	if settings.Desktop.Enabled {
		d.register(NewBeeepProvider(true, nil))
	}

	for i := range settings.Providers {
		pc := &settings.Providers[i]
		if !pc.Enabled {
			continue
		}

		timeout, err := time.ParseDuration(pc.Timeout)
		if err != nil || timeout < 0 {
			timeout = 0
		}

		var prov Provider
		switch strings.ToLower(pc.Type) {
		case "shoutrrr":
			prov = NewShoutrrrProvider(pc.Name, true, pc.URL, pc.Types, timeout)
		case "webhook":
			prov = NewWebhookProvider(pc.Name, true, WebhookEndpoint{
				URL:     pc.URL,
				Headers: pc.Headers,
				Timeout: timeout,
				Auth: WebhookAuth{
					BearerToken: pc.BearerToken,
					Username:    pc.Username,
					Password:    pc.Password,
				},
			}, pc.Types)
		default:
			d.logger.Error("unknown push provider type", "name", pc.Name, "type", pc.Type)
			continue
		}

		d.register(prov)
	}

	return d
}

// register validates and adds a provider.
func (d *PushDispatcher) register(prov Provider) {
	if err := prov.ValidateConfig(); err != nil {
		d.logger.Error("push provider config invalid", "name", prov.GetName(), "error", err)
		return
	}
	d.providers = append(d.providers, prov)
	d.stats[prov.GetName()] = &ProviderStats{}
}

// ChatSender returns the first configured chat provider, or nil. The call
// tracker uses it for lifecycle chat messages.
func (d *PushDispatcher) ChatSender() *ShoutrrrProvider {
	for _, prov := range d.providers {
		if sp, ok := prov.(*ShoutrrrProvider); ok {
			return sp
		}
	}
	return nil
}

// ProviderCount returns the number of active providers.
func (d *PushDispatcher) ProviderCount() int {
	return len(d.providers)
}

// Start subscribes to the service and begins forwarding notifications.
// A dispatcher with no providers does not subscribe at all.
func (d *PushDispatcher) Start() {
	if len(d.providers) == 0 {
		d.logger.Info("no push providers configured")
		return
	}

	ch, ctx := d.service.Subscribe()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Go(func() {
		for {
			select {
			case notification, ok := <-ch:
				if !ok || notification == nil {
					return
				}
				d.dispatch(ctx, notification)
			case <-ctx.Done():
				return
			}
		}
	})

	d.logger.Info("push dispatcher started", "providers", len(d.providers))
}

// dispatch forwards one notification to every provider that accepts it.
func (d *PushDispatcher) dispatch(ctx context.Context, notification *Notification) {
	for _, prov := range d.providers {
		if !prov.IsEnabled() || !prov.SupportsType(notification.Type) {
			continue
		}

		if !d.sem.TryAcquire(1) {
			d.record(prov.GetName(), false)
			d.logger.Warn("push delivery dropped, concurrency limit reached",
				"provider", prov.GetName(),
				"notification_id", notification.ID)
			continue
		}

		d.wg.Go(func() {
			defer d.sem.Release(1)

			sendCtx, cancel := context.WithTimeout(ctx, defaultDispatchTimeout)
			defer cancel()

			err := prov.Send(sendCtx, notification)
			d.record(prov.GetName(), err == nil)
			if err != nil {
				d.logger.Warn("push delivery failed",
					"provider", prov.GetName(),
					"notification_id", notification.ID,
					"type", notification.Type,
					"error", err)
			}
		})
	}
}

// record updates the per-provider delivery counters.
func (d *PushDispatcher) record(name string, ok bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	st := d.stats[name]
	if st == nil {
		st = &ProviderStats{}
		d.stats[name] = st
	}
	if ok {
		st.Sent++
	} else {
		st.Failed++
	}
}

// Stats returns a snapshot of per-provider delivery counters.
func (d *PushDispatcher) Stats() map[string]ProviderStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	out := make(map[string]ProviderStats, len(d.stats))
	for name, st := range d.stats {
		out[name] = *st
	}
	return out
}

// Stop halts dispatching and waits for in-flight deliveries.
func (d *PushDispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	for _, prov := range d.providers {
		if wp, ok := prov.(*WebhookProvider); ok {
			wp.Close()
		}
	}
}
