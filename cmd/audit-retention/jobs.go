package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/compliance"
	"github.com/platinummonkey/auditcore/pkg/config"
	"github.com/platinummonkey/auditcore/pkg/storage/artifacts"
)

// dashboardDays is the window covered by the daily dashboard snapshot
const dashboardDays = 7

// worker runs the scheduled retention and reporting jobs
type worker struct {
	store    audit.Store
	reporter *compliance.Reporter
	// files is nil when exports are not kept on the local filesystem
	files  *artifacts.FileSystemStore
	cfg    config.RetentionConfig
	logger *logrus.Logger
	now    func() time.Time
}

// archive moves events past ArchiveAfterDays to the archive and, when
// DeleteAfterDays is set, removes live or archived events older than that whose
// own retention period has also run out
func (w *worker) archive(ctx context.Context) error {
	now := w.now().UTC()

	if w.cfg.ArchiveAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -w.cfg.ArchiveAfterDays)
		moved, err := w.store.ArchiveBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		w.logger.WithFields(logrus.Fields{
			"cutoff": cutoff.Format(time.RFC3339),
			"moved":  moved,
		}).Info("Archived audit events")
	}

	if w.cfg.DeleteAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -w.cfg.DeleteAfterDays)
		deleted, err := w.store.DeleteBefore(ctx, cutoff, now)
		if err != nil {
			return fmt.Errorf("delete before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		w.logger.WithFields(logrus.Fields{
			"cutoff":  cutoff.Format(time.RFC3339),
			"deleted": deleted,
		}).Info("Deleted expired audit events")
	}
	return nil
}

// purgeExports removes expired export artifacts from the export directory
func (w *worker) purgeExports() error {
	if w.files == nil {
		return nil
	}
	removed, err := w.files.PurgeExpired(w.now())
	if removed > 0 {
		w.logger.Infof("Purged %d expired export artifacts", removed)
	}
	if err != nil {
		return fmt.Errorf("purge exports: %w", err)
	}
	return nil
}

// snapshot logs the compliance dashboard for the last dashboardDays full UTC days
func (w *worker) snapshot(ctx context.Context) (*compliance.Dashboard, error) {
	end := w.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -dashboardDays)

	dashboard, err := w.reporter.Dashboard(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("dashboard snapshot: %w", err)
	}

	fields := logrus.Fields{
		"period_start":  start.Format(audit.DayFormat),
		"period_end":    end.Format(audit.DayFormat),
		"overall_score": fmt.Sprintf("%.1f", dashboard.OverallScore),
		"risks":         len(dashboard.RiskIndicators),
	}
	for _, summary := range dashboard.Summaries {
		fields[string(summary.Regulation)] = fmt.Sprintf("%.1f", summary.ComplianceScore)
	}
	w.logger.WithFields(fields).Info("Compliance dashboard snapshot")

	for _, risk := range dashboard.RiskIndicators {
		w.logger.WithFields(logrus.Fields{
			"type":      risk.Type,
			"severity":  risk.Severity,
			"value":     risk.Value,
			"threshold": risk.Threshold,
		}).Warn(risk.Description)
	}
	return dashboard, nil
}

// runAll runs every job once, continuing past failures
func (w *worker) runAll(ctx context.Context) error {
	var failed int
	if err := w.archive(ctx); err != nil {
		w.logger.Errorf("Archive job failed: %v", err)
		failed++
	}
	if err := w.purgeExports(); err != nil {
		w.logger.Errorf("Export purge failed: %v", err)
		failed++
	}
	if _, err := w.snapshot(ctx); err != nil {
		w.logger.Errorf("Dashboard snapshot failed: %v", err)
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("%d retention jobs failed", failed)
	}
	return nil
}
