// Package-wide defaults for the notification system.
package notification

import "time"

const (
	// DefaultMaxNotifications caps the in-memory store size
	DefaultMaxNotifications = 1000
	// DefaultCleanupInterval is how often expired notifications are removed
	DefaultCleanupInterval = time.Hour
	// DefaultChannelBufferSize is the per-session channel buffer
	DefaultChannelBufferSize = 10
	// DefaultRateLimitWindow is the window for creation rate limiting
	DefaultRateLimitWindow = time.Minute
	// DefaultRateLimitMaxEvents is the max notifications created per window
	DefaultRateLimitMaxEvents = 100
)

// Related entity type names used when linking notifications.
const (
	RelatedIncident    = "incident"
	RelatedAnswerSheet = "answer_sheet"
)
