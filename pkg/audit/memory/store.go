// Package memory provides an in-process audit.Store for tests, development and
// single-node deployments that do not need durable storage.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

// Store implements audit.Store in memory. Saved events are cloned on the way in
// and on the way out, so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	events   []*audit.AuditEvent
	archived []*audit.AuditEvent
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Save implements audit.Store
func (s *Store) Save(ctx context.Context, event *audit.AuditEvent) (*audit.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := event.Clone()
	s.mu.Lock()
	s.events = append(s.events, stored)
	s.mu.Unlock()
	return stored.Clone(), nil
}

// Search implements audit.Store
func (s *Store) Search(ctx context.Context, criteria audit.Criteria) ([]*audit.AuditEvent, int64, error) {
	matched := s.filter(criteria)
	criteria.SortEvents(matched)

	total := int64(len(matched))
	if !criteria.IsUnpaged() {
		from := criteria.Offset()
		if from > len(matched) {
			from = len(matched)
		}
		to := from + criteria.Size
		if to > len(matched) {
			to = len(matched)
		}
		matched = matched[from:to]
	}

	out := make([]*audit.AuditEvent, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, total, nil
}

// Count implements audit.Store
func (s *Store) Count(ctx context.Context, criteria audit.Criteria) (int64, error) {
	return int64(len(s.filter(criteria))), nil
}

// CountBy implements audit.Store
func (s *Store) CountBy(ctx context.Context, field audit.GroupField, start, end time.Time) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, e := range s.filter(audit.Window(start, end)) {
		counts[field.Value(e)]++
	}
	return counts, nil
}

// TopUsers implements audit.Store. Events without a user are ignored; ties order by user id.
func (s *Store) TopUsers(ctx context.Context, start, end time.Time, limit int) ([]audit.UserCount, error) {
	counts := make(map[string]int64)
	for _, e := range s.filter(audit.Window(start, end)) {
		if e.UserID != "" {
			counts[e.UserID]++
		}
	}
	users := make([]audit.UserCount, 0, len(counts))
	for id, n := range counts {
		users = append(users, audit.UserCount{UserID: id, Count: n})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Count != users[j].Count {
			return users[i].Count > users[j].Count
		}
		return users[i].UserID < users[j].UserID
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// CountByHour implements audit.Store
func (s *Store) CountByHour(ctx context.Context, start, end time.Time) (map[int]int64, error) {
	counts := make(map[int]int64)
	for _, e := range s.filter(audit.Window(start, end)) {
		counts[e.Timestamp.UTC().Hour()]++
	}
	return counts, nil
}

// CountByDay implements audit.Store
func (s *Store) CountByDay(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, e := range s.filter(audit.Window(start, end)) {
		counts[e.Timestamp.UTC().Format(audit.DayFormat)]++
	}
	return counts, nil
}

// AverageDuration implements audit.Store
func (s *Store) AverageDuration(ctx context.Context, start, end time.Time) (float64, error) {
	var sum, n int64
	for _, e := range s.filter(audit.Window(start, end)) {
		if e.DurationMs != nil {
			sum += *e.DurationMs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

// SuccessRate implements audit.Store
func (s *Store) SuccessRate(ctx context.Context, start, end time.Time) (float64, error) {
	events := s.filter(audit.Window(start, end))
	if len(events) == 0 {
		return 0, nil
	}
	var ok int
	for _, e := range events {
		if e.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(events)) * 100, nil
}

// FindByComplianceFlag implements audit.Store
func (s *Store) FindByComplianceFlag(ctx context.Context, regulation audit.Regulation, start, end time.Time, userID string) ([]*audit.AuditEvent, error) {
	criteria := audit.Window(start, end)
	criteria.UserID = userID

	var out []*audit.AuditEvent
	for _, e := range s.filter(criteria) {
		if e.HasComplianceFlag(regulation) {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DeleteBefore implements audit.Store
func (s *Store) DeleteBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	expired := func(e *audit.AuditEvent) bool {
		return e.Timestamp.Before(cutoff) && e.Timestamp.AddDate(0, 0, e.RetentionDays).Before(now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	s.events, removed = removeIf(s.events, expired)
	var removedArchived int
	s.archived, removedArchived = removeIf(s.archived, expired)
	return int64(removed + removedArchived), nil
}

// ArchiveBefore implements audit.Store. Archived events leave the searchable set.
func (s *Store) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept, moved := partition(s.events, cutoff)
	s.events = kept
	s.archived = append(s.archived, moved...)
	return int64(len(moved)), nil
}

// Len returns the number of searchable events
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ArchivedLen returns the number of archived events
func (s *Store) ArchivedLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archived)
}

// filter returns the matching stored events in insertion order. The slice is
// new but the events are shared and must not escape without Clone.
func (s *Store) filter(criteria audit.Criteria) []*audit.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.AuditEvent
	for _, e := range s.events {
		if criteria.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func partition(events []*audit.AuditEvent, cutoff time.Time) (kept, before []*audit.AuditEvent) {
	for _, e := range events {
		if e.Timestamp.Before(cutoff) {
			before = append(before, e)
		} else {
			kept = append(kept, e)
		}
	}
	return kept, before
}

func removeIf(events []*audit.AuditEvent, match func(*audit.AuditEvent) bool) ([]*audit.AuditEvent, int) {
	kept := events[:0]
	for _, e := range events {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	removed := len(events) - len(kept)
	clear(events[len(kept):])
	return kept, removed
}

var _ audit.Store = (*Store)(nil)
