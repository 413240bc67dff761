package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

const (
	defaultMaxNotifications = 1000
	defaultCleanupInterval  = 5 * time.Minute
	defaultDedupWindow      = 5 * time.Minute
	defaultRatePerMinute    = 30
	subscriberBuffer        = 64
)

// Subscriber represents a notification subscriber
type Subscriber struct {
	ch     chan *Notification
	ctx    context.Context
	cancel context.CancelFunc
}

// ServiceConfig holds the configuration for the notification service.
type ServiceConfig struct {
	// Debug enables debug logging for the service
	Debug bool
	// MaxNotifications is the maximum number of notifications to keep in memory
	MaxNotifications int
	// CleanupInterval is how often to clean up expired notifications
	CleanupInterval time.Duration
	// DedupWindow is how long identical notifications coalesce into one
	DedupWindow time.Duration
	// RatePerMinute caps notification creation; zero or negative disables the cap
	RatePerMinute int
}

// DefaultServiceConfig returns a default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxNotifications: defaultMaxNotifications,
		CleanupInterval:  defaultCleanupInterval,
		DedupWindow:      defaultDedupWindow,
		RatePerMinute:    defaultRatePerMinute,
	}
}

// dedupEntry remembers which stored notification carries a given content key.
type dedupEntry struct {
	id     string
	seenAt time.Time
}

// Service manages notifications: it stores them, coalesces repeats, rate
// limits creation and broadcasts to subscribers. Safe for concurrent use.
type Service struct {
	store         NotificationStore
	subscribers   []*Subscriber
	subscribersMu sync.RWMutex
	limiter       *rate.Limiter
	recent        map[string]dedupEntry
	recentMu      sync.Mutex
	dedupWindow   time.Duration
	cleanupTicker *time.Ticker
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	logger        *slog.Logger
	config        *ServiceConfig
}

// NewService creates a new notification service
func NewService(config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.MaxNotifications <= 0 {
		config.MaxNotifications = defaultMaxNotifications
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = defaultDedupWindow
	}

	logger := logging.ForService("notification")
	if logger == nil {
		logger = slog.Default().With("service", "notification")
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RatePerMinute)), config.RatePerMinute)
	}

	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		store:         NewInMemoryStore(config.MaxNotifications),
		subscribers:   make([]*Subscriber, 0),
		limiter:       limiter,
		recent:        make(map[string]dedupEntry),
		dedupWindow:   config.DedupWindow,
		cleanupTicker: time.NewTicker(config.CleanupInterval),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		config:        config,
	}

	service.logger.Info("notification service initialized",
		"max_notifications", config.MaxNotifications,
		"cleanup_interval", config.CleanupInterval,
		"dedup_window", config.DedupWindow,
		"rate_per_minute", config.RatePerMinute)

	service.wg.Add(1)
	go service.cleanupLoop()

	return service
}

// Create adds a new notification to the system
func (s *Service) Create(notifType Type, priority Priority, title, message string) (*Notification, error) {
	return s.create(NewNotification(notifType, priority, title, message))
}

// CreateWithComponent creates a notification with a specific component
func (s *Service) CreateWithComponent(notifType Type, priority Priority, title, message, component string) (*Notification, error) {
	return s.create(NewNotification(notifType, priority, title, message).WithComponent(component))
}

// create applies the rate limit, coalesces repeats within the dedup window
// and broadcasts the stored result to subscribers.
func (s *Service) create(notification *Notification) (*Notification, error) {
	if !s.limiter.Allow() {
		if s.config.Debug {
			s.logger.Debug("notification rate limit exceeded",
				"type", notification.Type,
				"component", notification.Component)
		}
		return nil, errors.Newf("notification rate limit exceeded").
			Component("notification").
			Category(errors.CategoryLimit).
			Build()
	}

	if existing := s.coalesce(notification); existing != nil {
		s.broadcast(existing)
		return existing, nil
	}

	if err := s.store.Save(notification); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("operation", "save_notification").
			Build()
	}
	s.remember(notification)

	if s.config.Debug {
		s.logger.Debug("notification created",
			"id", notification.ID,
			"type", notification.Type,
			"priority", notification.Priority,
			"component", notification.Component)
	}

	s.broadcast(notification)
	return notification, nil
}

// coalesce folds a repeat of recent identical content into the stored
// notification: bumps the occurrence count, refreshes the timestamp and
// resets the read state. Returns nil when the notification is new.
func (s *Service) coalesce(notification *Notification) *Notification {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	key := notification.ContentKey()
	entry, ok := s.recent[key]
	if !ok {
		return nil
	}
	if time.Since(entry.seenAt) > s.dedupWindow {
		delete(s.recent, key)
		return nil
	}

	existing, err := s.store.Get(entry.id)
	if err != nil {
		// Evicted or dismissed since last seen, treat as new.
		delete(s.recent, key)
		return nil
	}

	existing.Occurrences++
	existing.Timestamp = time.Now()
	existing.Status = StatusUnread
	if err := s.store.Update(existing); err != nil {
		delete(s.recent, key)
		return nil
	}

	entry.seenAt = existing.Timestamp
	s.recent[key] = entry

	if s.config.Debug {
		s.logger.Debug("notification coalesced",
			"id", existing.ID,
			"occurrences", existing.Occurrences)
	}
	return existing
}

// remember records the content key of a freshly stored notification.
func (s *Service) remember(notification *Notification) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.recent[notification.ContentKey()] = dedupEntry{id: notification.ID, seenAt: notification.Timestamp}
}

// forgetID drops any dedup entries pointing at the given notification so a
// later repeat surfaces as a fresh notification.
func (s *Service) forgetID(id string) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	for key, entry := range s.recent {
		if entry.id == id {
			delete(s.recent, key)
		}
	}
}

// Get retrieves a notification by ID
func (s *Service) Get(id string) (*Notification, error) {
	return s.store.Get(id)
}

// List returns notifications based on filter options
func (s *Service) List(filter *FilterOptions) ([]*Notification, error) {
	return s.store.List(filter)
}

// MarkAsRead updates a notification's status to read
func (s *Service) MarkAsRead(id string) error {
	if id == "" {
		return errors.Newf("notification ID cannot be empty").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	notification, err := s.store.Get(id)
	if err != nil {
		return err
	}

	notification.MarkAsRead()
	return s.store.Update(notification)
}

// MarkAsAcknowledged updates a notification's status to acknowledged
func (s *Service) MarkAsAcknowledged(id string) error {
	if id == "" {
		return errors.Newf("notification ID cannot be empty").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	notification, err := s.store.Get(id)
	if err != nil {
		return err
	}

	notification.MarkAsAcknowledged()
	return s.store.Update(notification)
}

// Delete removes a notification
func (s *Service) Delete(id string) error {
	if id == "" {
		return errors.Newf("notification ID cannot be empty").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	s.forgetID(id)
	return s.store.Delete(id)
}

// UnreadCount returns the number of unread notifications
func (s *Service) UnreadCount() (int, error) {
	return s.store.UnreadCount()
}

// NotifyUser raises a call lifecycle banner. Failures are swallowed, the
// call transition must never depend on notification delivery.
func (s *Service) NotifyUser(title, body string) {
	notification := NewNotification(TypeCall, PriorityHigh, title, body).
		WithComponent("tracker").
		WithExpiry(24 * time.Hour)
	if _, err := s.create(notification); err != nil {
		s.logger.Debug("call notification dropped", "title", title, "error", err)
	}
}

// ResolvePlaybackBlocked dismisses the persistent playback-locked prompt
// after an unlock gesture. Returns the number of prompts cleared; when any
// were cleared, subscribers receive a short-lived all-clear banner.
func (s *Service) ResolvePlaybackBlocked() int {
	all, err := s.store.List(nil)
	if err != nil {
		return 0
	}

	cleared := 0
	for _, notification := range all {
		blocked, ok := notification.Metadata[MetadataKeyPlaybackBlocked].(bool)
		if !ok || !blocked {
			continue
		}
		if err := s.Delete(notification.ID); err == nil {
			cleared++
		}
	}

	if cleared > 0 {
		s.logger.Info("playback blocked prompt cleared", "count", cleared)
		notification := NewNotification(TypeInfo, PriorityLow, "Audio Playback Unlocked", "Queued announcements will play now.").
			WithComponent("announcer").
			WithExpiry(time.Minute)
		if _, err := s.create(notification); err != nil {
			s.logger.Debug("unlock banner dropped", "error", err)
		}
	}
	return cleared
}

// Subscribe creates a channel to receive real-time notifications.
//
// The returned context is cancelled when the subscription terminates. The
// subscriber must watch ctx.Done() and must not close the channel; the
// service owns it. Unsubscribe with service.Unsubscribe(ch).
func (s *Service) Subscribe() (<-chan *Notification, context.Context) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &Subscriber{
		ch:     make(chan *Notification, subscriberBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	s.subscribers = append(s.subscribers, sub)

	if s.config.Debug {
		s.logger.Debug("subscriber added", "total_subscribers", len(s.subscribers))
	}

	return sub.ch, ctx
}

// Unsubscribe removes a notification channel. It cancels the subscriber's
// context but does not close the channel.
func (s *Service) Unsubscribe(ch <-chan *Notification) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for i, subscriber := range s.subscribers {
		if subscriber.ch == ch {
			subscriber.cancel()
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// broadcast sends a clone of the notification to every live subscriber.
// Full channels are skipped, a stalled SSE client cannot hold up the rest.
func (s *Service) broadcast(notification *Notification) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	active := make([]*Subscriber, 0, len(s.subscribers))
	skipped := 0
	for _, sub := range s.subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}
		active = append(active, sub)

		select {
		case sub.ch <- notification.Clone():
		default:
			skipped++
		}
	}
	s.subscribers = active

	if skipped > 0 && s.config.Debug {
		s.logger.Debug("subscriber channels full",
			"notification_id", notification.ID,
			"skipped", skipped)
	}
}

// cleanupLoop periodically removes expired notifications and stale dedup keys
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cleanupTicker.C:
			if err := s.store.DeleteExpired(); err != nil {
				s.logger.Error("expired notification cleanup failed", "error", err)
			}
			s.pruneRecent()
		case <-s.ctx.Done():
			return
		}
	}
}

// pruneRecent drops dedup entries older than the window.
func (s *Service) pruneRecent() {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	cutoff := time.Now().Add(-s.dedupWindow)
	for key, entry := range s.recent {
		if entry.seenAt.Before(cutoff) {
			delete(s.recent, key)
		}
	}
}

// Stop gracefully shuts down the notification service
func (s *Service) Stop() {
	s.cancel()
	s.cleanupTicker.Stop()
	s.wg.Wait()

	s.subscribersMu.Lock()
	for _, sub := range s.subscribers {
		sub.cancel()
	}
	s.subscribers = nil
	s.subscribersMu.Unlock()

	s.logger.Info("notification service stopped")
}
