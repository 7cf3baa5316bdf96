package access

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

type fakeStore struct {
	datastore.Interface
	mu     sync.Mutex
	grants map[string]*datastore.AccessGrant
	gets   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{grants: make(map[string]*datastore.AccessGrant)}
}

func (f *fakeStore) GetAccessGrant(staffID string) (*datastore.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if grant, ok := f.grants[staffID]; ok {
		return grant, nil
	}
	return nil, errors.Newf("no access grant").Category(errors.CategoryNotFound).Build()
}

func (f *fakeStore) SaveAccessGrant(grant *datastore.AccessGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[grant.StaffID] = grant
	return nil
}

func teacherGrant(staffID string) *datastore.AccessGrant {
	return &datastore.AccessGrant{
		ID:       "grant-" + staffID,
		StaffID:  staffID,
		IsActive: true,
		Classes: []datastore.ClassCapability{
			{ClassID: "C1", CanUpload: true, CanMarkAbsent: true},
			{ClassID: "C2", CanOverrideAI: true},
		},
		Subjects: []datastore.SubjectCapability{
			{SubjectID: "MATH", CanCreateQuestions: true},
		},
	}
}

func TestCanActClassCapabilities(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.grants["T1"] = teacherGrant("T1")
	gate := NewGate(store)

	decision, err := gate.CanAct("T1", Scope{ClassID: "C1"}, CapUpload)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = gate.CanAct("T1", Scope{ClassID: "C1"}, CapOverrideAI)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "capability not granted for this class", decision.Reason)

	decision, err = gate.CanAct("T1", Scope{ClassID: "C3"}, CapUpload)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no access to this class", decision.Reason)
}

func TestCanActSubjectCapabilities(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.grants["T1"] = teacherGrant("T1")
	gate := NewGate(store)

	decision, err := gate.CanAct("T1", Scope{SubjectID: "MATH"}, CapCreateQuestions)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = gate.CanAct("T1", Scope{SubjectID: "MATH"}, CapUploadSyllabus)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = gate.CanAct("T1", Scope{SubjectID: "PHYS"}, CapCreateQuestions)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no access to this subject", decision.Reason)
}

func TestCanActGlobalFlags(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.grants["A1"] = &datastore.AccessGrant{
		ID: "grant-A1", StaffID: "A1", IsActive: true,
		AllClasses: true, AllSubjects: true,
	}
	gate := NewGate(store)

	decision, err := gate.CanAct("A1", Scope{ClassID: "anything"}, CapMarkMissing)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Global)

	decision, err = gate.CanAct("A1", Scope{SubjectID: "anything"}, CapUploadSyllabus)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCanActMissingGrantDenies(t *testing.T) {
	t.Parallel()
	gate := NewGate(newFakeStore())

	decision, err := gate.CanAct("stranger", Scope{ClassID: "C1"}, CapUpload)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no access grant on record", decision.Reason)
}

func TestCanActExpiredGrantDenies(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	past := time.Now().Add(-time.Hour)
	grant := teacherGrant("T1")
	grant.ExpiresAt = &past
	store.grants["T1"] = grant
	gate := NewGate(store)

	decision, err := gate.CanAct("T1", Scope{ClassID: "C1"}, CapUpload)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.True(t, decision.Expired)
}

func TestGrantCacheAvoidsRepeatedLookups(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.grants["T1"] = teacherGrant("T1")
	gate := NewGate(store)

	for range 5 {
		_, err := gate.CanAct("T1", Scope{ClassID: "C1"}, CapUpload)
		require.NoError(t, err)
	}

	store.mu.Lock()
	gets := store.gets
	store.mu.Unlock()
	assert.Equal(t, 1, gets)
}

func TestSaveGrantInvalidatesCache(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.grants["T1"] = teacherGrant("T1")
	gate := NewGate(store)

	decision, err := gate.CanAct("T1", Scope{ClassID: "C1"}, CapMarkMissing)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	updated := teacherGrant("T1")
	updated.Classes[0].CanMarkMissing = true
	require.NoError(t, gate.SaveGrant(updated))

	decision, err = gate.CanAct("T1", Scope{ClassID: "C1"}, CapMarkMissing)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
