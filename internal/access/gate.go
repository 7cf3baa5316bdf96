// Package access resolves whether a staff member may perform a gated action
// on a class or subject. Grants are cached briefly so hot request paths do
// not hit the database on every check.
package access

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/logging"
)

// Capability names a single gated action.
type Capability string

const (
	CapUpload          Capability = "upload"
	CapMarkAbsent      Capability = "mark_absent"
	CapMarkMissing     Capability = "mark_missing"
	CapOverrideAI      Capability = "override_ai"
	CapCreateQuestions Capability = "create_questions"
	CapUploadSyllabus  Capability = "upload_syllabus"
)

// Scope identifies what a capability check is scoped to. Exactly one of
// ClassID or SubjectID is set.
type Scope struct {
	ClassID   string
	SubjectID string
}

// Decision explains the outcome of a capability check so callers can report
// the denial cause instead of a bare refusal.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	StaffID    string     `json:"staffId"`
	Capability Capability `json:"capability"`
	Reason     string     `json:"reason,omitempty"`
	Global     bool       `json:"global,omitempty"`
	Expired    bool       `json:"expired,omitempty"`
}

const (
	grantCacheTTL     = 30 * time.Second
	grantCacheCleanup = 5 * time.Minute
)

// Gate answers capability checks against stored access grants.
type Gate struct {
	store datastore.Interface
	cache *gocache.Cache
	log   *slog.Logger
}

// NewGate creates an access gate backed by the given store.
func NewGate(store datastore.Interface) *Gate {
	logger := logging.ForService("access")
	if logger == nil {
		logger = slog.Default().With("service", "access")
	}
	return &Gate{
		store: store,
		cache: gocache.New(grantCacheTTL, grantCacheCleanup),
		log:   logger,
	}
}

// CanAct checks whether the staff member holds the capability within the
// scope. A missing grant or a past expiry yields a denial, not an error;
// errors are reserved for lookup failures.
func (g *Gate) CanAct(staffID string, scope Scope, capability Capability) (*Decision, error) {
	decision := &Decision{
		StaffID:    staffID,
		Capability: capability,
	}

	grant, err := g.grant(staffID)
	if err != nil {
		if errors.IsNotFound(err) {
			decision.Reason = "no access grant on record"
			return decision, nil
		}
		return nil, err
	}

	if grant.ExpiresAt != nil && grant.ExpiresAt.Before(time.Now()) {
		decision.Expired = true
		decision.Reason = "access grant has expired"
		return decision, nil
	}

	switch capability {
	case CapUpload, CapMarkAbsent, CapMarkMissing, CapOverrideAI:
		g.checkClass(decision, grant, scope.ClassID, capability)
	case CapCreateQuestions, CapUploadSyllabus:
		g.checkSubject(decision, grant, scope.SubjectID, capability)
	default:
		decision.Reason = "unknown capability"
	}
	return decision, nil
}

// Invalidate drops the cached grant for a staff member. Called after grant
// updates so changes take effect without waiting out the TTL.
func (g *Gate) Invalidate(staffID string) {
	g.cache.Delete(staffID)
}

// SaveGrant upserts a grant and invalidates its cache entry.
func (g *Gate) SaveGrant(grant *datastore.AccessGrant) error {
	if err := g.store.SaveAccessGrant(grant); err != nil {
		return err
	}
	g.Invalidate(grant.StaffID)
	return nil
}

// GetGrant loads the active grant for a staff member, bypassing the cache.
func (g *Gate) GetGrant(staffID string) (*datastore.AccessGrant, error) {
	return g.store.GetAccessGrant(staffID)
}

func (g *Gate) grant(staffID string) (*datastore.AccessGrant, error) {
	if cached, ok := g.cache.Get(staffID); ok {
		return cached.(*datastore.AccessGrant), nil
	}

	grant, err := g.store.GetAccessGrant(staffID)
	if err != nil {
		return nil, err
	}
	g.cache.SetDefault(staffID, grant)
	return grant, nil
}

func (g *Gate) checkClass(decision *Decision, grant *datastore.AccessGrant, classID string, capability Capability) {
	if grant.AllClasses {
		decision.Allowed = true
		decision.Global = true
		return
	}
	if classID == "" {
		decision.Reason = "class scope required for this capability"
		return
	}

	for i := range grant.Classes {
		if grant.Classes[i].ClassID != classID {
			continue
		}
		if classCapabilityAllowed(&grant.Classes[i], capability) {
			decision.Allowed = true
		} else {
			decision.Reason = "capability not granted for this class"
		}
		return
	}
	decision.Reason = "no access to this class"
}

func (g *Gate) checkSubject(decision *Decision, grant *datastore.AccessGrant, subjectID string, capability Capability) {
	if grant.AllSubjects {
		decision.Allowed = true
		decision.Global = true
		return
	}
	if subjectID == "" {
		decision.Reason = "subject scope required for this capability"
		return
	}

	for i := range grant.Subjects {
		if grant.Subjects[i].SubjectID != subjectID {
			continue
		}
		if subjectCapabilityAllowed(&grant.Subjects[i], capability) {
			decision.Allowed = true
		} else {
			decision.Reason = "capability not granted for this subject"
		}
		return
	}
	decision.Reason = "no access to this subject"
}

func classCapabilityAllowed(class *datastore.ClassCapability, capability Capability) bool {
	switch capability {
	case CapUpload:
		return class.CanUpload
	case CapMarkAbsent:
		return class.CanMarkAbsent
	case CapMarkMissing:
		return class.CanMarkMissing
	case CapOverrideAI:
		return class.CanOverrideAI
	default:
		return false
	}
}

func subjectCapabilityAllowed(subject *datastore.SubjectCapability, capability Capability) bool {
	switch capability {
	case CapCreateQuestions:
		return subject.CanCreateQuestions
	case CapUploadSyllabus:
		return subject.CanUploadSyllabus
	default:
		return false
	}
}
