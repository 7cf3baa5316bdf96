// Package notification provides durable notification records plus the live
// push layer that multicasts to connected staff sessions. Durable records are
// the source of truth; the push side is a latency optimization only.
package notification

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examtrack/examtrack-go/internal/errors"
)

// Type represents the category of a notification
type Type string

const (
	// TypeIncident indicates an incident was reported or changed state
	TypeIncident Type = "incident"
	// TypeSheet indicates an answer-sheet lifecycle event
	TypeSheet Type = "sheet"
	// TypeWarning indicates a warning notification
	TypeWarning Type = "warning"
	// TypeInfo indicates an informational notification
	TypeInfo Type = "info"
	// TypeSystem indicates a system status notification
	TypeSystem Type = "system"
)

// Sentinel errors for notification operations
var (
	ErrNotificationNotFound = errors.Newf("notification not found").Component("notification").Category(errors.CategoryNotFound).Build()
	ErrNotRecipient         = errors.Newf("notification belongs to another recipient").Component("notification").Category(errors.CategoryForbidden).Build()
)

// Priority represents the urgency level of a notification
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Status represents the lifecycle state of a notification. Read is reachable
// only from unread; acknowledged and dismissed are reachable from any prior
// state.
type Status string

const (
	StatusUnread       Status = "unread"
	StatusRead         Status = "read"
	StatusAcknowledged Status = "acknowledged"
	StatusDismissed    Status = "dismissed"
)

// Metadata keys used by producers when routing or rendering notifications.
const (
	// MetadataKeyOriginTeacher marks an admin copy of a teacher-originated event
	MetadataKeyOriginTeacher = "originTeacher"
	// MetadataKeyIncidentType carries the incident type for incident events
	MetadataKeyIncidentType = "incidentType"
)

// Notification represents a single notification event
type Notification struct {
	// ID is the unique identifier for the notification
	ID string `json:"id"`
	// Type categorizes the notification
	Type Type `json:"type"`
	// Priority indicates the urgency level
	Priority Priority `json:"priority"`
	// Status tracks the notification lifecycle
	Status Status `json:"status"`
	// Title is a short summary of the notification
	Title string `json:"title"`
	// Message provides detailed information
	Message string `json:"message"`
	// Component identifies the producing component (e.g. "incident", "sheet")
	Component string `json:"component,omitempty"`
	// Recipient is the user id this notification belongs to
	Recipient string `json:"recipient"`
	// RelatedType and RelatedID reference the entity this notification is about
	RelatedType string `json:"relatedType,omitempty"`
	RelatedID   string `json:"relatedId,omitempty"`
	// Timestamp indicates when the notification was created
	Timestamp time.Time `json:"timestamp"`
	// Metadata contains additional context-specific data
	Metadata map[string]any `json:"metadata,omitempty"`

	ReadAt         *time.Time `json:"read_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty"`
	// ExpiresAt indicates when the notification should be auto-removed (optional)
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewNotification creates a new notification with a unique ID and timestamp
func NewNotification(notifType Type, priority Priority, title, message string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		Type:      notifType,
		Priority:  priority,
		Status:    StatusUnread,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// WithComponent sets the component field and returns the notification for chaining
func (n *Notification) WithComponent(component string) *Notification {
	n.Component = component
	return n
}

// WithRecipient sets the recipient and returns the notification for chaining
func (n *Notification) WithRecipient(userID string) *Notification {
	n.Recipient = userID
	return n
}

// WithRelated references the entity this notification is about
func (n *Notification) WithRelated(relatedType, relatedID string) *Notification {
	n.RelatedType = relatedType
	n.RelatedID = relatedID
	return n
}

// WithMetadata adds metadata and returns the notification for chaining
func (n *Notification) WithMetadata(key string, value any) *Notification {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
	return n
}

// WithExpiry sets the expiration time and returns the notification for chaining
func (n *Notification) WithExpiry(duration time.Duration) *Notification {
	expiresAt := time.Now().Add(duration)
	n.ExpiresAt = &expiresAt
	return n
}

// IsExpired checks if the notification has expired
func (n *Notification) IsExpired() bool {
	if n.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*n.ExpiresAt)
}

// MarkAsRead updates the notification status to read
func (n *Notification) MarkAsRead() {
	now := time.Now()
	n.Status = StatusRead
	n.ReadAt = &now
}

// MarkAsAcknowledged updates the notification status to acknowledged
func (n *Notification) MarkAsAcknowledged() {
	now := time.Now()
	n.Status = StatusAcknowledged
	n.AcknowledgedAt = &now
}

// MarkAsDismissed updates the notification status to dismissed
func (n *Notification) MarkAsDismissed() {
	now := time.Now()
	n.Status = StatusDismissed
	n.DismissedAt = &now
}

// Clone creates a deep copy of the notification including the metadata map.
// Each live session receives its own clone so concurrent serialization never
// races with a producer mutating the original.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}

	clone := *n

	if n.ReadAt != nil {
		t := *n.ReadAt
		clone.ReadAt = &t
	}
	if n.AcknowledgedAt != nil {
		t := *n.AcknowledgedAt
		clone.AcknowledgedAt = &t
	}
	if n.DismissedAt != nil {
		t := *n.DismissedAt
		clone.DismissedAt = &t
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		clone.ExpiresAt = &t
	}
	if n.Metadata != nil {
		clone.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

// Store defines methods for persisting notifications
type Store interface {
	// Save persists a notification
	Save(notification *Notification) error
	// Get retrieves a notification by ID
	Get(id string) (*Notification, error)
	// List returns notifications with optional filtering
	List(filter *FilterOptions) ([]*Notification, error)
	// Update modifies an existing notification
	Update(notification *Notification) error
	// Delete removes a notification
	Delete(id string) error
	// DeleteExpired removes all expired notifications
	DeleteExpired() error
	// UnreadCount returns the count of unread notifications for a recipient;
	// an empty recipient counts across all recipients
	UnreadCount(recipient string) (int, error)
	// UpdateStatusByRelated bulk-transitions the notifications referencing a
	// related entity whose status is in from, and reports how many changed
	UpdateStatusByRelated(relatedType, relatedID string, from []Status, to Status) (int, error)
}

// FilterOptions provides filtering capabilities for listing notifications
type FilterOptions struct {
	// Recipient limits results to one user's notifications
	Recipient string
	// Types filters by notification types
	Types []Type
	// Priorities filters by priority levels
	Priorities []Priority
	// Status filters by lifecycle state
	Status []Status
	// RelatedType/RelatedID filter by referenced entity
	RelatedType string
	RelatedID   string
	// Since returns notifications after this time
	Since *time.Time
	// Until returns notifications before this time
	Until *time.Time
	// Limit restricts the number of results
	Limit int
	// Offset for pagination
	Offset int
}

// InMemoryStore provides a thread-safe in-memory notification store. The
// production store is datastore-backed; this one serves tests and lets the
// service run without a database.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
	maxSize       int
}

// NewInMemoryStore creates a new in-memory notification store
func NewInMemoryStore(maxSize int) *InMemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &InMemoryStore{
		notifications: make(map[string]*Notification),
		maxSize:       maxSize,
	}
}

// Save stores a notification in memory
func (s *InMemoryStore) Save(notification *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.notifications) >= s.maxSize {
		s.removeOldest()
	}

	s.notifications[notification.ID] = notification.Clone()
	return nil
}

// Get retrieves a notification by ID
func (s *InMemoryStore) Get(id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if notif, exists := s.notifications[id]; exists {
		return notif.Clone(), nil
	}
	return nil, ErrNotificationNotFound
}

// List returns filtered notifications sorted newest first
func (s *InMemoryStore) List(filter *FilterOptions) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Notification
	for _, notif := range s.notifications {
		if matchesFilter(notif, filter) {
			results = append(results, notif.Clone())
		}
	}

	sortNotificationsByTime(results)

	if filter != nil {
		if filter.Offset < len(results) {
			results = results[filter.Offset:]
		} else {
			results = []*Notification{}
		}

		if filter.Limit > 0 && len(results) > filter.Limit {
			results = results[:filter.Limit]
		}
	}

	return results, nil
}

// Update modifies an existing notification
func (s *InMemoryStore) Update(notification *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[notification.ID]; !exists {
		return ErrNotificationNotFound
	}

	s.notifications[notification.ID] = notification.Clone()
	return nil
}

// Delete removes a notification
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.notifications, id)
	return nil
}

// DeleteExpired removes all expired notifications
func (s *InMemoryStore) DeleteExpired() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, notif := range s.notifications {
		if notif.IsExpired() {
			delete(s.notifications, id)
		}
	}
	return nil
}

// UnreadCount returns the count of unread notifications for a recipient
func (s *InMemoryStore) UnreadCount(recipient string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, notif := range s.notifications {
		if notif.Status != StatusUnread {
			continue
		}
		if recipient != "" && notif.Recipient != recipient {
			continue
		}
		count++
	}
	return count, nil
}

// UpdateStatusByRelated bulk-transitions notifications tied to a related entity.
func (s *InMemoryStore) UpdateStatusByRelated(relatedType, relatedID string, from []Status, to Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	now := time.Now()
	for _, notif := range s.notifications {
		if notif.RelatedType != relatedType || notif.RelatedID != relatedID {
			continue
		}
		if len(from) > 0 && !slices.Contains(from, notif.Status) {
			continue
		}
		notif.Status = to
		switch to {
		case StatusRead:
			notif.ReadAt = &now
		case StatusAcknowledged:
			notif.AcknowledgedAt = &now
		case StatusDismissed:
			notif.DismissedAt = &now
		case StatusUnread:
			// bulk transitions never reset to unread
		}
		changed++
	}
	return changed, nil
}

// removeOldest removes the oldest notification to make room
func (s *InMemoryStore) removeOldest() {
	var oldestID string
	var oldestTime time.Time

	for id, notif := range s.notifications {
		if oldestID == "" || notif.Timestamp.Before(oldestTime) {
			oldestID = id
			oldestTime = notif.Timestamp
		}
	}

	if oldestID != "" {
		delete(s.notifications, oldestID)
	}
}

// matchesFilter checks if a notification matches the filter criteria
func matchesFilter(notif *Notification, filter *FilterOptions) bool {
	if filter == nil {
		return true
	}

	if filter.Recipient != "" && notif.Recipient != filter.Recipient {
		return false
	}
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, notif.Type) {
		return false
	}
	if len(filter.Priorities) > 0 && !slices.Contains(filter.Priorities, notif.Priority) {
		return false
	}
	if len(filter.Status) > 0 && !slices.Contains(filter.Status, notif.Status) {
		return false
	}
	if filter.RelatedType != "" && notif.RelatedType != filter.RelatedType {
		return false
	}
	if filter.RelatedID != "" && notif.RelatedID != filter.RelatedID {
		return false
	}
	if filter.Since != nil && notif.Timestamp.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && notif.Timestamp.After(*filter.Until) {
		return false
	}
	return true
}

// sortNotificationsByTime sorts notifications by timestamp (newest first)
func sortNotificationsByTime(notifications []*Notification) {
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].Timestamp.After(notifications[j].Timestamp)
	})
}
