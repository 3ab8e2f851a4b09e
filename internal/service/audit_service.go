package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditSink interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// RequestMeta describes the HTTP caller behind a service call.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta attaches caller metadata for audit entries.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the caller metadata attached to ctx.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}

// AuditService persists audit entries asynchronously through a worker queue. A nil
// *AuditService is a valid, disabled sink.
type AuditService struct {
	sink    auditSink
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAuditService builds the service and its queue. Call Start before Record.
func NewAuditService(sink auditSink, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{sink: sink, metrics: metrics, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains buffered entries and waits for the workers.
func (s *AuditService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Record queues an audit entry. It never blocks and never fails the caller.
func (s *AuditService) Record(ctx context.Context, entry models.AuditEntry) {
	if s == nil {
		return
	}
	log, err := buildAuditLog(entry, RequestMetaFrom(ctx))
	if err != nil {
		s.logger.Warn("failed to build audit log", zap.String("action", entry.Action), zap.Error(err))
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: log.ID, Type: auditJobType, Payload: log}); err != nil {
		s.metrics.RecordAuditDropped()
		s.logger.Warn("audit entry dropped", zap.String("action", entry.Action), zap.Error(err))
	}
}

// History returns the newest audit entries for one resource. Admin only; a disabled
// trail has no history.
func (s *AuditService) History(ctx context.Context, actor models.Actor, resource string, resourceID models.ID, limit int) ([]models.AuditLog, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	if s == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.sink.ListByResource(ctx, resource, resourceID.Hex(), limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load audit history")
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return errors.New("audit job carries unexpected payload")
	}
	return s.sink.Create(ctx, log)
}

func buildAuditLog(entry models.AuditEntry, meta RequestMeta) (*models.AuditLog, error) {
	log := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    entry.Action,
		Resource:  entry.Resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	if !entry.ActorID.IsZero() {
		actor := entry.ActorID.Hex()
		log.UserID = &actor
	}
	if !entry.ResourceID.IsZero() {
		resource := entry.ResourceID.Hex()
		log.ResourceID = &resource
	}
	if len(entry.Details) > 0 {
		payload, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal audit details: %w", err)
		}
		log.NewValues = payload
	}
	return log, nil
}
