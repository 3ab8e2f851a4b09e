package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/export"
	"github.com/noah-isme/classroom-api/pkg/storage"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type assignmentLister interface {
	ListByCourse(ctx context.Context, courseID models.ID) ([]models.Assignment, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	Retention       time.Duration
	CleanupInterval time.Duration
}

// ExportService renders course rosters and gradebooks and hands out signed download links.
type ExportService struct {
	courses     courseLookup
	users       userDirectory
	assignments assignmentLister
	storage     fileStorage
	signer      *storage.SignedURLSigner
	renderers   map[string]export.Renderer
	metrics     *MetricsService
	audit       *AuditService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ExportConfig
	now         func() time.Time
}

// NewExportService constructs an ExportService with CSV and PDF renderers.
func NewExportService(courses courseLookup, users userDirectory, assignments assignmentLister, files fileStorage, signer *storage.SignedURLSigner, metrics *MetricsService, audit *AuditService, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &ExportService{
		courses:     courses,
		users:       users,
		assignments: assignments,
		storage:     files,
		signer:      signer,
		renderers: map[string]export.Renderer{
			models.ExportFormatCSV: export.NewCSVExporter(),
			models.ExportFormatPDF: export.NewPDFExporter(),
		},
		metrics:   metrics,
		audit:     audit,
		validator: validation.New(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Generate renders the requested report for a course the caller owns (or any course for admins).
func (s *ExportService) Generate(ctx context.Context, actor models.Actor, courseID models.ID, req models.ExportRequest) (*models.ExportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid export request")
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
		return nil, appErrors.ErrNotOwner
	}

	var dataset export.Dataset
	switch req.Kind {
	case models.ExportKindRoster:
		dataset, err = s.rosterDataset(ctx, course)
	case models.ExportKindGrades:
		dataset, err = s.gradesDataset(ctx, course)
	}
	if err != nil {
		return nil, err
	}

	renderer := s.renderers[req.Format]
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}

	id := uuid.NewString()
	fileName := fmt.Sprintf("%s_%s_%s.%s", course.Slug, req.Kind, s.now().UTC().Format("20060102_150405"), renderer.Extension())
	relPath, err := s.storage.Save(path.Join(id, fileName), payload)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign export link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.metrics.RecordExport(req.Kind, req.Format)
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionExport, Resource: "course", ResourceID: course.ID,
		Details: map[string]interface{}{"kind": req.Kind, "format": req.Format, "export_id": id}})

	return &models.ExportResult{
		ID:        id,
		FileName:  fileName,
		Token:     token,
		URL:       fmt.Sprintf("%s/exports/download?token=%s", prefix, url.QueryEscape(token)),
		ExpiresAt: expiresAt,
	}, nil
}

// Open validates a download token and returns the stored file.
func (s *ExportService) Open(token string) (*models.ExportFile, io.ReadCloser, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to open export")
	}
	meta := &models.ExportFile{Path: relPath, FileName: path.Base(relPath), ContentType: "application/octet-stream", Size: -1}
	if info, err := file.Stat(); err == nil {
		meta.Size = info.Size()
	}
	if r, ok := s.renderers[strings.TrimPrefix(path.Ext(relPath), ".")]; ok {
		meta.ContentType = r.ContentType()
	}
	return meta, file, nil
}

// Cleanup removes exports older than the retention window.
func (s *ExportService) Cleanup() (int, error) {
	removed, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return 0, err
	}
	return len(removed), nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Cleanup()
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", removed))
				}
			}
		}
	}()
}

func (s *ExportService) rosterDataset(ctx context.Context, course *models.Course) (export.Dataset, error) {
	people, err := s.users.FindByIDs(ctx, course.Students.StudentIDs())
	if err != nil {
		return export.Dataset{}, appErrors.Internal(err, "failed to load students")
	}
	rows := make([][]string, 0, len(course.Students))
	for _, rec := range course.Students {
		who := summaryFor(people, rec.StudentID)
		rows = append(rows, []string{who.Name, who.Email, rec.Status, formatExportTime(rec.EnrolledAt)})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Roster: %s", course.Title),
		Headers: []string{"Name", "Email", "Status", "Enrolled At"},
		Rows:    rows,
	}, nil
}

// gradesDataset lays out one row per enrolled student and one column per assignment.
func (s *ExportService) gradesDataset(ctx context.Context, course *models.Course) (export.Dataset, error) {
	assignments, err := s.assignments.ListByCourse(ctx, course.ID)
	if err != nil {
		return export.Dataset{}, appErrors.Internal(err, "failed to list assignments")
	}
	people, err := s.users.FindByIDs(ctx, course.Students.StudentIDs())
	if err != nil {
		return export.Dataset{}, appErrors.Internal(err, "failed to load students")
	}

	headers := []string{"Name", "Email"}
	for _, a := range assignments {
		headers = append(headers, fmt.Sprintf("%s (/%s)", a.Title, formatScore(a.MaxScore)))
	}
	rows := make([][]string, 0, len(course.Students))
	for _, rec := range course.Students {
		who := summaryFor(people, rec.StudentID)
		row := []string{who.Name, who.Email}
		for i := range assignments {
			row = append(row, gradeCell(&assignments[i], rec.StudentID))
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Grades: %s", course.Title),
		Headers: headers,
		Rows:    rows,
	}, nil
}

func gradeCell(a *models.Assignment, studentID models.ID) string {
	sub, ok := a.SubmissionOf(studentID)
	switch {
	case !ok:
		return "-"
	case sub.Grade == nil:
		return sub.Status
	default:
		return formatScore(*sub.Grade)
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatExportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
