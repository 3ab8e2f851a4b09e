package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

type backfillRepository interface {
	EachBackfillCandidate(ctx context.Context, fn func(*models.Course) error) error
	ReplaceMembership(ctx context.Context, course *models.Course) error
}

// BackfillReport summarises one migration run.
type BackfillReport struct {
	DryRun         bool `json:"dry_run"`
	Scanned        int  `json:"scanned"`
	Rewritten      int  `json:"rewritten"`
	LegacyEntries  int  `json:"legacy_entries"`
	DuplicateDrops int  `json:"duplicate_drops"`
	PendingDrops   int  `json:"pending_drops"`
}

// EnrollmentMigrator rewrites stored course membership into the canonical form:
// ObjectID references, sub-document roster entries and disjoint lists.
type EnrollmentMigrator struct {
	repo   backfillRepository
	cache  *CacheService
	logger *zap.Logger
	now    func() time.Time
}

// NewEnrollmentMigrator constructs an EnrollmentMigrator.
func NewEnrollmentMigrator(repo backfillRepository, cache *CacheService, logger *zap.Logger) *EnrollmentMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentMigrator{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Run normalises every candidate course. With dryRun set nothing is written.
func (m *EnrollmentMigrator) Run(ctx context.Context, dryRun bool) (*BackfillReport, error) {
	report := &BackfillReport{DryRun: dryRun}
	err := m.repo.EachBackfillCandidate(ctx, func(course *models.Course) error {
		report.Scanned++
		stats := normalizeMembership(course, m.now().UTC())
		report.LegacyEntries += stats.legacy
		report.DuplicateDrops += stats.duplicates
		report.PendingDrops += stats.pending

		m.logger.Debug("backfill candidate",
			zap.String("course_id", course.ID.Hex()),
			zap.Int("legacy_entries", stats.legacy),
			zap.Int("pending_dropped", stats.pending),
			zap.Bool("dry_run", dryRun))
		if dryRun {
			return nil
		}
		if err := m.repo.ReplaceMembership(ctx, course); err != nil {
			return err
		}
		report.Rewritten++
		return nil
	})
	if err != nil {
		return report, appErrors.Internal(err, "enrollment backfill failed")
	}

	if report.Rewritten > 0 {
		m.cache.InvalidatePattern(ctx, studentCoursesPrefix+"*")
	}
	m.logger.Info("enrollment backfill finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("rewritten", report.Rewritten),
		zap.Int("legacy_entries", report.LegacyEntries),
		zap.Int("pending_dropped", report.PendingDrops))
	return report, nil
}

type normalizeStats struct {
	legacy     int
	duplicates int
	pending    int
}

// normalizeMembership fixes a decoded course in place. Legacy roster entries get an
// enrollment date, duplicate entries collapse to the first one and pending entries
// for enrolled students are dropped.
func normalizeMembership(course *models.Course, at time.Time) normalizeStats {
	var stats normalizeStats

	roster := make(models.Roster, 0, len(course.Students))
	for _, rec := range course.Students {
		if _, dup := roster.Find(rec.StudentID); dup {
			stats.duplicates++
			continue
		}
		if rec.Legacy {
			stats.legacy++
			rec.Legacy = false
			if rec.EnrolledAt.IsZero() {
				rec.EnrolledAt = course.CreatedAt
			}
			if rec.EnrolledAt.IsZero() {
				rec.EnrolledAt = at
			}
		}
		if rec.Status == "" {
			rec.Status = models.EnrollmentStatusActive
		}
		roster = append(roster, rec)
	}

	pending := make([]models.ID, 0, len(course.PendingStudents))
	for _, id := range course.PendingStudents {
		if models.ContainsID(pending, id) {
			stats.duplicates++
			continue
		}
		if _, enrolled := roster.Find(id); enrolled {
			stats.pending++
			continue
		}
		pending = append(pending, id)
	}

	course.Students = roster
	course.PendingStudents = pending
	return stats
}
