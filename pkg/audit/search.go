package audit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// SearchAuditEvents returns one page of events matching criteria. Store failures are returned.
func (s *Service) SearchAuditEvents(ctx context.Context, criteria Criteria) (*Page, error) {
	normalized, err := criteria.Normalize()
	if err != nil {
		return nil, err
	}
	events, total, err := s.store.Search(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("search audit events: %w", err)
	}
	return NewPage(events, total, normalized), nil
}

// Statistics summarizes the events of a window
type Statistics struct {
	Start             time.Time        `json:"start"`
	End               time.Time        `json:"end"`
	TotalEvents       int64            `json:"total_events"`
	SuccessfulEvents  int64            `json:"successful_events"`
	FailedEvents      int64            `json:"failed_events"`
	SuccessRate       float64          `json:"success_rate"`
	AverageDurationMs float64          `json:"average_duration_ms"`
	ByAction          map[string]int64 `json:"by_action"`
	BySeverity        map[string]int64 `json:"by_severity"`
	ByService         map[string]int64 `json:"by_service"`
	TopUsers          []UserCount      `json:"top_users"`
	ByHour            map[int]int64    `json:"by_hour"`
	ByDay             map[string]int64 `json:"by_day"`
	GroupBy           GroupField       `json:"group_by,omitempty"`
	ByGroup           map[string]int64 `json:"by_group,omitempty"`
}

// GetAuditStatistics aggregates the window [start, end). groupBy is optional and
// adds one more breakdown. The store queries run concurrently; the first failure is returned.
func (s *Service) GetAuditStatistics(ctx context.Context, start, end time.Time, groupBy string) (*Statistics, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidCriteria)
	}
	stats := &Statistics{Start: start, End: end}
	if groupBy != "" {
		field, err := ParseGroupField(groupBy)
		if err != nil {
			return nil, err
		}
		stats.GroupBy = field
	}

	window := Window(start, end)
	failed := FailedWindow(start, end)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalEvents, err = s.store.Count(gctx, window)
		return wrapStat("count events", err)
	})
	g.Go(func() (err error) {
		stats.FailedEvents, err = s.store.Count(gctx, failed)
		return wrapStat("count failed events", err)
	})
	g.Go(func() (err error) {
		stats.SuccessRate, err = s.store.SuccessRate(gctx, start, end)
		return wrapStat("success rate", err)
	})
	g.Go(func() (err error) {
		stats.AverageDurationMs, err = s.store.AverageDuration(gctx, start, end)
		return wrapStat("average duration", err)
	})
	g.Go(func() (err error) {
		stats.ByAction, err = s.store.CountBy(gctx, GroupByAction, start, end)
		return wrapStat("count by action", err)
	})
	g.Go(func() (err error) {
		stats.BySeverity, err = s.store.CountBy(gctx, GroupBySeverity, start, end)
		return wrapStat("count by severity", err)
	})
	g.Go(func() (err error) {
		stats.ByService, err = s.store.CountBy(gctx, GroupByService, start, end)
		return wrapStat("count by service", err)
	})
	g.Go(func() (err error) {
		stats.TopUsers, err = s.store.TopUsers(gctx, start, end, s.cfg.TopUsers)
		return wrapStat("top users", err)
	})
	g.Go(func() (err error) {
		stats.ByHour, err = s.store.CountByHour(gctx, start, end)
		return wrapStat("count by hour", err)
	})
	g.Go(func() (err error) {
		stats.ByDay, err = s.store.CountByDay(gctx, start, end)
		return wrapStat("count by day", err)
	})
	if stats.GroupBy != "" {
		g.Go(func() (err error) {
			stats.ByGroup, err = s.store.CountBy(gctx, stats.GroupBy, start, end)
			return wrapStat("count by "+string(stats.GroupBy), err)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.SuccessfulEvents = stats.TotalEvents - stats.FailedEvents
	if stats.TotalEvents == 0 {
		stats.SuccessRate = 0
	}
	return stats, nil
}

func wrapStat(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("audit statistics: %s: %w", what, err)
}
