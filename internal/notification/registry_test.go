package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, session *Session) []*Notification {
	t.Helper()
	var received []*Notification
	for {
		select {
		case notif := <-session.Notifications():
			received = append(received, notif)
		default:
			return received
		}
	}
}

func TestRegistryTeacherDoubleIndexing(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)

	teacher := registry.Connect("T1", RoleTeacher, "A1")
	admin := registry.Connect("A1", RoleAdmin, "")

	assert.Equal(t, 1, registry.UserSessionCount("T1"))
	assert.Equal(t, 1, registry.UserSessionCount("A1"))
	// admin delivery set holds the admin's own session plus the teacher's
	assert.Equal(t, 2, registry.AdminSessionCount("A1"))

	notif := NewNotification(TypeIncident, PriorityHigh, "incident", "reported")
	delivered := registry.SendToAdmin("A1", notif)
	assert.Equal(t, 2, delivered)
	assert.Len(t, drain(t, teacher), 1)
	assert.Len(t, drain(t, admin), 1)
}

func TestRegistrySendToUserNeverLeaksToAdminSet(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)

	teacher1 := registry.Connect("T1", RoleTeacher, "A1")
	teacher2 := registry.Connect("T2", RoleTeacher, "A1")
	admin := registry.Connect("A1", RoleAdmin, "")

	notif := NewNotification(TypeInfo, PriorityLow, "personal", "for T1 only")
	delivered := registry.SendToUser("T1", notif)

	assert.Equal(t, 1, delivered)
	assert.Len(t, drain(t, teacher1), 1)
	assert.Empty(t, drain(t, teacher2))
	assert.Empty(t, drain(t, admin))
}

func TestRegistryMultiDeviceSessions(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)

	phone := registry.Connect("T1", RoleTeacher, "A1")
	laptop := registry.Connect("T1", RoleTeacher, "A1")
	require.Equal(t, 2, registry.UserSessionCount("T1"))

	notif := NewNotification(TypeSheet, PriorityMedium, "sheet", "updated")
	delivered := registry.SendToUser("T1", notif)
	assert.Equal(t, 2, delivered)
	assert.Len(t, drain(t, phone), 1)
	assert.Len(t, drain(t, laptop), 1)

	registry.Disconnect(phone)
	assert.Equal(t, 1, registry.UserSessionCount("T1"))
	assert.Equal(t, 1, registry.SendToUser("T1", notif))
}

func TestRegistryDisconnectRemovesEmptySets(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)

	teacher := registry.Connect("T1", RoleTeacher, "A1")
	registry.Disconnect(teacher)

	assert.Equal(t, 0, registry.UserSessionCount("T1"))
	assert.Equal(t, 0, registry.AdminSessionCount("A1"))
	assert.Equal(t, 0, registry.SessionCount())

	// disconnected session context is cancelled
	select {
	case <-teacher.Context().Done():
	default:
		t.Fatal("expected session context to be cancelled")
	}
}

func TestRegistryAdminNotIndexedAsAdminOfAdmin(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)

	// admin session connecting with an adminID set must still be indexed
	// under its own id only
	admin := registry.Connect("A1", RoleAdmin, "A0")

	assert.Equal(t, 1, registry.AdminSessionCount("A1"))
	assert.Equal(t, 0, registry.AdminSessionCount("A0"))

	notif := NewNotification(TypeSystem, PriorityLow, "system", "hello")
	assert.Equal(t, 0, registry.SendToAdmin("A0", notif))
	assert.Equal(t, 1, registry.SendToAdmin("A1", notif))
	assert.Len(t, drain(t, admin), 1)
}

func TestRegistryBroadcastReachesEverySession(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)

	sessions := []*Session{
		registry.Connect("T1", RoleTeacher, "A1"),
		registry.Connect("T2", RoleTeacher, "A2"),
		registry.Connect("A1", RoleAdmin, ""),
	}

	notif := NewNotification(TypeSystem, PriorityMedium, "maintenance", "tonight")
	assert.Equal(t, len(sessions), registry.Broadcast(notif))
	for _, session := range sessions {
		assert.Len(t, drain(t, session), 1)
	}
}

func TestRegistryDeliveryClonesPayload(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(10, nil)
	teacher := registry.Connect("T1", RoleTeacher, "A1")

	notif := NewNotification(TypeInfo, PriorityLow, "title", "msg").
		WithMetadata("key", "original")
	registry.SendToUser("T1", notif)

	// mutating the producer's copy must not affect the delivered clone
	notif.Metadata["key"] = "mutated"

	received := drain(t, teacher)
	require.Len(t, received, 1)
	assert.Equal(t, "original", received[0].Metadata["key"])
}

func TestRegistryFullChannelDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	registry := NewSessionRegistry(1, nil)
	teacher := registry.Connect("T1", RoleTeacher, "A1")

	first := NewNotification(TypeInfo, PriorityLow, "first", "fits")
	second := NewNotification(TypeInfo, PriorityLow, "second", "dropped")

	assert.Equal(t, 1, registry.SendToUser("T1", first))
	assert.Equal(t, 0, registry.SendToUser("T1", second))

	received := drain(t, teacher)
	require.Len(t, received, 1)
	assert.Equal(t, "first", received[0].Title)
}
