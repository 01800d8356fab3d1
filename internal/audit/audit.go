// Package audit records every mutating action in the system as an
// append-only log entry with before/after snapshots and a computed diff.
// Records expire after a retention window and are garbage-collected by
// the Sweeper.
package audit

import (
	"context"
	"fmt"
	"time"

	"windscope.org/internal/ids"
)

const defaultRetention = 30 * 24 * time.Hour

// Action identifies what was done to an entity.
type Action string

const (
	ActionCreate        Action = "CREATE"
	ActionUpdate        Action = "UPDATE"
	ActionDelete        Action = "DELETE"
	ActionStatusChange  Action = "STATUS_CHANGE"
	ActionMemberAdded   Action = "MEMBER_ADDED"
	ActionMemberRemoved Action = "MEMBER_REMOVED"
	ActionApprove       Action = "APPROVE"
)

// EntityType identifies what kind of entity was acted on.
type EntityType string

const (
	EntityUser             EntityType = "USER"
	EntityProject          EntityType = "PROJECT"
	EntityProjectMember    EntityType = "PROJECT_MEMBER"
	EntityWindfarm         EntityType = "WINDFARM"
	EntityTurbine          EntityType = "TURBINE"
	EntityInspection       EntityType = "INSPECTION"
	EntityDamageAssessment EntityType = "DAMAGE_ASSESSMENT"
)

// Record is one immutable audit log entry.
type Record struct {
	ID          string
	ActorID     string
	Action      Action
	EntityType  EntityType
	EntityID    string
	EntityName  string
	Description string
	ProjectID   string
	Before      map[string]any
	After       map[string]any
	Changes     map[string]map[string]any
	IPAddress   string
	UserAgent   string
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Entry is the caller-supplied part of a Record.
type Entry struct {
	ActorID    string
	Action     Action
	EntityType EntityType
	EntityID   string
	EntityName string
	ProjectID  string
	Before     map[string]any
	After      map[string]any
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
}

// Filter narrows audit listings.
type Filter struct {
	ActorID    string
	ProjectID  string
	EntityType EntityType
	Action     Action
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Store persists audit records.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter) ([]*Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder turns entries into records: it computes the diff, stamps the
// retention deadline and appends. It performs no I/O beyond the single
// store append.
type Recorder struct {
	store     Store
	now       func() time.Time
	retention time.Duration
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithRetention overrides the record retention window.
func WithRetention(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.retention = d
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     store,
		now:       time.Now,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one audit entry and returns its id.
func (r *Recorder) Record(ctx context.Context, e Entry) (string, error) {
	now := r.now().UTC()
	rec := &Record{
		ID:          ids.New(),
		ActorID:     e.ActorID,
		Action:      e.Action,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		EntityName:  e.EntityName,
		Description: describe(e),
		ProjectID:   e.ProjectID,
		Before:      e.Before,
		After:       e.After,
		IPAddress:   e.IPAddress,
		UserAgent:   e.UserAgent,
		Metadata:    e.Metadata,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.retention),
	}
	if e.Before != nil && e.After != nil {
		rec.Changes = Diff(e.Before, e.After)
	}
	if err := r.store.Append(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// List returns matching records, newest first.
func (r *Recorder) List(ctx context.Context, f Filter) ([]*Record, error) {
	return r.store.List(ctx, f)
}

// Count returns the number of matching records.
func (r *Recorder) Count(ctx context.Context, f Filter) (int, error) {
	return r.store.Count(ctx, f)
}

func describe(e Entry) string {
	name := e.EntityName
	if name == "" {
		name = string(e.EntityType)
	}
	kind := string(e.EntityType)
	switch e.Action {
	case ActionCreate:
		return fmt.Sprintf("Created %s %q", kind, name)
	case ActionUpdate:
		return fmt.Sprintf("Updated %s %q", kind, name)
	case ActionDelete:
		return fmt.Sprintf("Deleted %s %q", kind, name)
	case ActionApprove:
		return fmt.Sprintf("Approved %s %q", kind, name)
	case ActionStatusChange:
		if e.Before != nil && e.After != nil {
			return fmt.Sprintf("Changed status of %s %q from %v to %v",
				kind, name, e.Before["status"], e.After["status"])
		}
		return fmt.Sprintf("Changed status of %s %q", kind, name)
	case ActionMemberAdded:
		return fmt.Sprintf("Added member to %s %q", kind, name)
	case ActionMemberRemoved:
		return fmt.Sprintf("Removed member from %s %q", kind, name)
	default:
		return fmt.Sprintf("Performed %s on %s %q", e.Action, kind, name)
	}
}
