package notification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Role identifies the kind of staff account behind a session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Session is one live push connection. A user may hold several concurrent
// sessions (multi-device); each is tracked independently.
type Session struct {
	ID      string
	UserID  string
	Role    Role
	AdminID string // owning admin for teacher sessions, empty otherwise

	ch     chan *Notification
	ctx    context.Context
	cancel context.CancelFunc
}

// Notifications returns the session's receive channel. The registry owns the
// channel; consumers must not close it.
func (s *Session) Notifications() <-chan *Notification {
	return s.ch
}

// Context is cancelled when the session is disconnected.
func (s *Session) Context() context.Context {
	return s.ctx
}

// SessionRegistry indexes live sessions by user id and, for teacher sessions,
// additionally by their administering admin id. All maps are guarded by a
// single mutex; concurrent connect and disconnect for the same user must not
// lose an entry.
type SessionRegistry struct {
	mu      sync.RWMutex
	byUser  map[string]map[*Session]struct{}
	byAdmin map[string]map[*Session]struct{}
	buffer  int
	logger  *slog.Logger
}

// NewSessionRegistry creates a registry with the given per-session channel buffer.
func NewSessionRegistry(channelBuffer int, logger *slog.Logger) *SessionRegistry {
	if channelBuffer <= 0 {
		channelBuffer = DefaultChannelBufferSize
	}
	if logger == nil {
		logger = slog.Default().With("service", "notifications")
	}
	return &SessionRegistry{
		byUser:  make(map[string]map[*Session]struct{}),
		byAdmin: make(map[string]map[*Session]struct{}),
		buffer:  channelBuffer,
		logger:  logger,
	}
}

// Connect registers a new session for the given user. Teacher sessions are
// double-indexed under adminID; admin sessions are indexed only under their
// own user id, never as "admin of admin".
func (r *SessionRegistry) Connect(userID string, role Role, adminID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:      uuid.New().String(),
		UserID:  userID,
		Role:    role,
		AdminID: adminID,
		ch:      make(chan *Notification, r.buffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[*Session]struct{})
	}
	r.byUser[userID][session] = struct{}{}

	if role == RoleTeacher && adminID != "" {
		if r.byAdmin[adminID] == nil {
			r.byAdmin[adminID] = make(map[*Session]struct{})
		}
		r.byAdmin[adminID][session] = struct{}{}
	} else if role == RoleAdmin {
		if r.byAdmin[userID] == nil {
			r.byAdmin[userID] = make(map[*Session]struct{})
		}
		r.byAdmin[userID][session] = struct{}{}
	}

	r.logger.Debug("push session connected",
		"session_id", session.ID,
		"user_id", userID,
		"role", role,
		"admin_id", adminID)

	return session
}

// Disconnect removes a session from both indexes and cancels its context.
// When a set becomes empty its key is removed entirely.
func (r *SessionRegistry) Disconnect(session *Session) {
	if session == nil {
		return
	}

	r.mu.Lock()
	if set, ok := r.byUser[session.UserID]; ok {
		delete(set, session)
		if len(set) == 0 {
			delete(r.byUser, session.UserID)
		}
	}

	adminKey := ""
	switch {
	case session.Role == RoleTeacher && session.AdminID != "":
		adminKey = session.AdminID
	case session.Role == RoleAdmin:
		adminKey = session.UserID
	}
	if adminKey != "" {
		if set, ok := r.byAdmin[adminKey]; ok {
			delete(set, session)
			if len(set) == 0 {
				delete(r.byAdmin, adminKey)
			}
		}
	}
	r.mu.Unlock()

	session.cancel()

	r.logger.Debug("push session disconnected",
		"session_id", session.ID,
		"user_id", session.UserID)
}

// SendToUser delivers only to sessions indexed under exactly this user id.
// The admin index is never consulted, so a personal notification can never
// reach sibling teachers under the same admin.
func (r *SessionRegistry) SendToUser(userID string, notif *Notification) int {
	r.mu.RLock()
	sessions := sessionsOf(r.byUser[userID])
	r.mu.RUnlock()

	return r.deliver(sessions, notif)
}

// SendToAdmin delivers to every session indexed under the admin id: the
// admin's own sessions plus every teacher session subordinate to that admin.
func (r *SessionRegistry) SendToAdmin(adminID string, notif *Notification) int {
	r.mu.RLock()
	sessions := sessionsOf(r.byAdmin[adminID])
	r.mu.RUnlock()

	return r.deliver(sessions, notif)
}

// Broadcast delivers to every connected session regardless of index.
func (r *SessionRegistry) Broadcast(notif *Notification) int {
	r.mu.RLock()
	var sessions []*Session
	for _, set := range r.byUser {
		sessions = append(sessions, sessionsOf(set)...)
	}
	r.mu.RUnlock()

	return r.deliver(sessions, notif)
}

// UserSessionCount reports how many live sessions a user currently holds.
func (r *SessionRegistry) UserSessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// AdminSessionCount reports the size of an admin's delivery set.
func (r *SessionRegistry) AdminSessionCount(adminID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAdmin[adminID])
}

// SessionCount reports the total number of connected sessions.
func (r *SessionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.byUser {
		total += len(set)
	}
	return total
}

// Shutdown disconnects every session and clears both indexes.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	var sessions []*Session
	for _, set := range r.byUser {
		sessions = append(sessions, sessionsOf(set)...)
	}
	r.byUser = make(map[string]map[*Session]struct{})
	r.byAdmin = make(map[string]map[*Session]struct{})
	r.mu.Unlock()

	for _, session := range sessions {
		session.cancel()
	}
}

// deliver fans a notification out to the given sessions. Sends are
// fire-and-forget: each session gets its own clone through a non-blocking
// channel send, and a full channel only costs that session the event. The
// durable record remains queryable over HTTP.
func (r *SessionRegistry) deliver(sessions []*Session, notif *Notification) int {
	delivered := 0
	for _, session := range sessions {
		select {
		case <-session.ctx.Done():
			continue
		default:
		}

		select {
		case session.ch <- notif.Clone():
			delivered++
		default:
			r.logger.Warn("push channel full, dropping notification for session",
				"session_id", session.ID,
				"user_id", session.UserID,
				"notification_id", notif.ID)
		}
	}
	return delivered
}

func sessionsOf(set map[*Session]struct{}) []*Session {
	if len(set) == 0 {
		return nil
	}
	sessions := make([]*Session, 0, len(set))
	for session := range set {
		sessions = append(sessions, session)
	}
	return sessions
}
