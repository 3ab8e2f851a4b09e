package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/jobs"
)

type recordingSink struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingSink) Create(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingSink) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditLog
	for _, log := range r.logs {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, *log)
		}
	}
	return out, nil
}

func TestAuditServiceRecordsThroughQueue(t *testing.T) {
	sink := &recordingSink{}
	svc := NewAuditService(sink, jobs.QueueConfig{Workers: 1, BufferSize: 4, RetryDelay: time.Millisecond}, nil, zap.NewNop())
	svc.Start(context.Background())

	ctx := WithRequestMeta(context.Background(), RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
	courseID := models.NewID()
	svc.Record(ctx, models.AuditEntry{
		ActorID:    teacherUser.ID,
		Action:     models.AuditActionEnrollment,
		Resource:   "course",
		ResourceID: courseID,
		Details:    map[string]interface{}{"transition": TransitionApprove},
	})
	svc.Stop()

	require.Len(t, sink.logs, 1)
	log := sink.logs[0]
	assert.Equal(t, models.AuditActionEnrollment, log.Action)
	assert.Equal(t, "10.0.0.1", log.IPAddress)
	require.NotNil(t, log.UserID)
	assert.Equal(t, teacherUser.ID.Hex(), *log.UserID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, courseID.Hex(), *log.ResourceID)

	var details map[string]string
	require.NoError(t, json.Unmarshal(log.NewValues, &details))
	assert.Equal(t, TransitionApprove, details["transition"])

	history, err := svc.History(context.Background(), actorOf(adminUser), "course", courseID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = svc.History(context.Background(), actorOf(teacherUser), "course", courseID, 10)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAuditServiceNilIsNoop(t *testing.T) {
	var svc *AuditService
	assert.NotPanics(t, func() {
		svc.Start(context.Background())
		svc.Record(context.Background(), models.AuditEntry{Action: models.AuditActionLogin})
		svc.Stop()
	})

	logs, err := svc.History(context.Background(), actorOf(adminUser), "course", models.NewID(), 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAuditServiceDropsWhenStopped(t *testing.T) {
	sink := &recordingSink{}
	metrics := NewMetricsService()
	svc := NewAuditService(sink, jobs.QueueConfig{Workers: 1}, metrics, zap.NewNop())

	svc.Record(context.Background(), models.AuditEntry{Action: models.AuditActionLogin})
	assert.Empty(t, sink.logs)
}
