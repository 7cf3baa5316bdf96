package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/examtrack/examtrack-go/internal/errors"
)

// AdminResolver looks up the administering admin for a teacher. Injected so
// the hub does not depend on the access-grant schema.
type AdminResolver func(teacherID string) (string, error)

// Service manages durable notifications and the live push fan-out.
type Service struct {
	store         Store
	registry      *SessionRegistry
	rateLimiter   *RateLimiter
	cleanupTicker *time.Ticker
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	logger        *slog.Logger
	config        *ServiceConfig
	resolveAdmin  AdminResolver
}

// ServiceConfig holds the configuration for the notification service.
type ServiceConfig struct {
	// Debug enables debug logging for the service
	Debug bool
	// MaxNotifications caps the in-memory fallback store
	MaxNotifications int
	// CleanupInterval is how often to clean up expired notifications
	CleanupInterval time.Duration
	// RateLimitWindow is the time window for rate limiting
	RateLimitWindow time.Duration
	// RateLimitMaxEvents is the maximum number of events per window
	RateLimitMaxEvents int
	// ChannelBuffer is the per-session push channel buffer
	ChannelBuffer int
}

// DefaultServiceConfig returns a default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxNotifications:   DefaultMaxNotifications,
		CleanupInterval:    DefaultCleanupInterval,
		RateLimitWindow:    DefaultRateLimitWindow,
		RateLimitMaxEvents: DefaultRateLimitMaxEvents,
		ChannelBuffer:      DefaultChannelBufferSize,
	}
}

// NewService creates a notification service over the given store. A nil store
// falls back to the in-memory store.
func NewService(store Store, config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if store == nil {
		store = NewInMemoryStore(config.MaxNotifications)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := getFileLogger(config.Debug)

	service := &Service{
		store:         store,
		registry:      NewSessionRegistry(config.ChannelBuffer, logger),
		rateLimiter:   NewRateLimiter(config.RateLimitWindow, config.RateLimitMaxEvents),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		config:        config,
	}

	service.logger.Info("notification service initialized",
		"cleanup_interval", config.CleanupInterval,
		"rate_limit_window", config.RateLimitWindow,
		"rate_limit_max_events", config.RateLimitMaxEvents,
		"channel_buffer", config.ChannelBuffer,
		"debug", config.Debug)

	service.wg.Add(1)
	go service.cleanupLoop()

	return service
}

// SetAdminResolver wires the teacher-to-admin lookup used by
// NotifyTeacherAndAdmin. Must be set before the first call.
func (s *Service) SetAdminResolver(resolver AdminResolver) {
	s.resolveAdmin = resolver
}

// Registry exposes the session registry for connection handling.
func (s *Service) Registry() *SessionRegistry {
	return s.registry
}

// Connect registers a live push session for the given identity.
func (s *Service) Connect(userID string, role Role, adminID string) *Session {
	return s.registry.Connect(userID, role, adminID)
}

// Disconnect removes a live push session.
func (s *Service) Disconnect(session *Session) {
	s.registry.Disconnect(session)
}

// NotifyUser persists the notification and pushes it to the recipient's own
// sessions only.
func (s *Service) NotifyUser(notif *Notification) error {
	if notif.Recipient == "" {
		return errors.Newf("notification recipient cannot be empty").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := s.persist(notif); err != nil {
		return err
	}

	delivered := s.registry.SendToUser(notif.Recipient, notif)
	s.debugDelivery("user", notif, delivered)
	return nil
}

// NotifyAdmin persists the notification for the admin and pushes it to the
// admin's whole delivery set (admin sessions plus subordinate teachers).
func (s *Service) NotifyAdmin(adminID string, notif *Notification) error {
	notif.Recipient = adminID
	if err := s.persist(notif); err != nil {
		return err
	}

	delivered := s.registry.SendToAdmin(adminID, notif)
	s.debugDelivery("admin", notif, delivered)
	return nil
}

// NotifyTeacherAndAdmin sends to the teacher personally, then to the
// teacher's administering admin with metadata marking the origin. It returns
// the ids of the records it created so producers can link them.
func (s *Service) NotifyTeacherAndAdmin(teacherID string, notif *Notification) ([]string, error) {
	notif.Recipient = teacherID
	if err := s.NotifyUser(notif); err != nil {
		return nil, err
	}
	created := []string{notif.ID}

	if s.resolveAdmin == nil {
		return created, errors.Newf("admin resolver not configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	adminID, err := s.resolveAdmin(teacherID)
	if err != nil {
		return created, errors.New(err).
			Component("notification").
			Category(errors.CategoryNotFound).
			Context("teacher_id", teacherID).
			Build()
	}

	// The admin copy is a fresh record with its own id so both parties can
	// manage read state independently.
	adminCopy := NewNotification(notif.Type, notif.Priority, notif.Title, notif.Message).
		WithComponent(notif.Component).
		WithRelated(notif.RelatedType, notif.RelatedID).
		WithMetadata(MetadataKeyOriginTeacher, teacherID)
	for k, v := range notif.Metadata {
		adminCopy.WithMetadata(k, v)
	}

	if err := s.NotifyAdmin(adminID, adminCopy); err != nil {
		return created, err
	}
	return append(created, adminCopy.ID), nil
}

// Broadcast persists one system-wide record (empty recipient) and pushes to
// every connected session.
func (s *Service) Broadcast(notif *Notification) error {
	notif.Recipient = ""
	if err := s.persist(notif); err != nil {
		return err
	}

	delivered := s.registry.Broadcast(notif)
	s.debugDelivery("broadcast", notif, delivered)
	return nil
}

// persist rate-limits and saves a notification.
func (s *Service) persist(notif *Notification) error {
	if !s.rateLimiter.Allow() {
		return errors.Newf("notification rate limit exceeded").
			Component("notification").
			Category(errors.CategoryLimit).
			Build()
	}

	if err := s.store.Save(notif); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryDatabase).
			Context("operation", "save_notification").
			Build()
	}
	return nil
}

// Get retrieves a notification by ID
func (s *Service) Get(id string) (*Notification, error) {
	return s.store.Get(id)
}

// List returns notifications based on filter options
func (s *Service) List(filter *FilterOptions) ([]*Notification, error) {
	return s.store.List(filter)
}

// MarkAsRead transitions a notification to read on behalf of its recipient.
func (s *Service) MarkAsRead(id, userID string) error {
	notif, err := s.getOwned(id, userID)
	if err != nil {
		return err
	}

	notif.MarkAsRead()
	return s.store.Update(notif)
}

// MarkAsAcknowledged transitions a notification to acknowledged on behalf of
// its recipient.
func (s *Service) MarkAsAcknowledged(id, userID string) error {
	notif, err := s.getOwned(id, userID)
	if err != nil {
		return err
	}

	notif.MarkAsAcknowledged()
	return s.store.Update(notif)
}

// Dismiss transitions a notification to dismissed on behalf of its recipient.
func (s *Service) Dismiss(id, userID string) error {
	notif, err := s.getOwned(id, userID)
	if err != nil {
		return err
	}

	notif.MarkAsDismissed()
	return s.store.Update(notif)
}

// getOwned fetches a notification and verifies the caller is its recipient.
// System-wide notifications (empty recipient) may be mutated by anyone.
func (s *Service) getOwned(id, userID string) (*Notification, error) {
	if id == "" {
		return nil, errors.Newf("notification ID cannot be empty").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}

	notif, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if notif.Recipient != "" && notif.Recipient != userID {
		return nil, ErrNotRecipient
	}
	return notif, nil
}

// UnreadCount returns the number of unread notifications for a recipient
func (s *Service) UnreadCount(recipient string) (int, error) {
	return s.store.UnreadCount(recipient)
}

// AcknowledgeByRelated bulk-acknowledges the unread/read notifications that
// reference a related entity. Used when the entity itself is acknowledged.
func (s *Service) AcknowledgeByRelated(relatedType, relatedID string) (int, error) {
	return s.store.UpdateStatusByRelated(relatedType, relatedID,
		[]Status{StatusUnread, StatusRead}, StatusAcknowledged)
}

// DismissByRelated bulk-dismisses the non-dismissed notifications that
// reference a related entity. Used when the entity is resolved.
func (s *Service) DismissByRelated(relatedType, relatedID string) (int, error) {
	return s.store.UpdateStatusByRelated(relatedType, relatedID,
		[]Status{StatusUnread, StatusRead, StatusAcknowledged}, StatusDismissed)
}

func (s *Service) debugDelivery(route string, notif *Notification, delivered int) {
	if s.config.Debug {
		s.logger.Debug("notification dispatched",
			"route", route,
			"notification_id", notif.ID,
			"recipient", notif.Recipient,
			"delivered_sessions", delivered)
	}
}

// cleanupLoop periodically removes expired notifications
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cleanupTicker.C:
			if err := s.store.DeleteExpired(); err != nil {
				s.logger.Error("error cleaning up expired notifications", "error", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the notification service
func (s *Service) Stop() {
	s.logger.Info("notification service shutting down")

	s.cancel()
	s.cleanupTicker.Stop()
	s.wg.Wait()

	s.registry.Shutdown()

	if err := CloseLogger(); err != nil {
		slog.Default().Error("failed to close notification logger", "error", err)
	}
}

// RateLimiter provides rate limiting for notification creation
type RateLimiter struct {
	window    time.Duration
	maxEvents int
	events    []time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, maxEvents int) *RateLimiter {
	return &RateLimiter{
		window:    window,
		maxEvents: maxEvents,
		events:    make([]time.Time, 0, maxEvents),
	}
}

// Allow checks if an event is allowed based on rate limits
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	validCount := 0
	for _, event := range r.events {
		if event.After(cutoff) {
			r.events[validCount] = event
			validCount++
		}
	}
	r.events = r.events[:validCount]

	if len(r.events) >= r.maxEvents {
		return false
	}

	r.events = append(r.events, now)
	return true
}

// Reset clears the rate limiter
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
