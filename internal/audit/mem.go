package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory is a Store backed by a slice, used in tests and single-node
// development setups.
type InMemory struct {
	mu      sync.Mutex
	records []*Record
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Append(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *InMemory) List(_ context.Context, f Filter) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.match(f)
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]*Record, len(matched))
	for i, rec := range matched {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}

func (m *InMemory) Count(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.match(f)), nil
}

func (m *InMemory) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*Record
	var n int64
	for _, rec := range m.records {
		if rec.ExpiresAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return n, nil
}

// match applies every filter field except limit and offset. Callers hold mu.
func (m *InMemory) match(f Filter) []*Record {
	var out []*Record
	for _, rec := range m.records {
		if f.ActorID != "" && rec.ActorID != f.ActorID {
			continue
		}
		if f.ProjectID != "" && rec.ProjectID != f.ProjectID {
			continue
		}
		if f.EntityType != "" && rec.EntityType != f.EntityType {
			continue
		}
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && rec.CreatedAt.After(f.Until) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
