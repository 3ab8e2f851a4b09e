package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/pkg/database"
)

// NotificationRepository provides document store access for notifications.
type NotificationRepository struct {
	coll *mongo.Collection
}

// NewNotificationRepository creates a new instance of NotificationRepository.
func NewNotificationRepository(db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{coll: db.Collection(database.CollectionNotifications)}
}

// EnsureIndexes creates audience lookup indexes.
func (r *NotificationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "global", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("idx_global_created")},
		{Keys: bson.D{{Key: "courseId", Value: 1}}, Options: options.Index().SetName("idx_course")},
		{Keys: bson.D{{Key: "recipients", Value: 1}}, Options: options.Index().SetName("idx_recipients")},
	})
	if err != nil {
		return fmt.Errorf("ensure notification indexes: %w", err)
	}
	return nil
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = models.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Recipients == nil {
		n.Recipients = []models.ID{}
	}
	if n.ReadBy == nil {
		n.ReadBy = []models.ID{}
	}
	if _, err := r.coll.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id models.ID) (*models.Notification, error) {
	var n models.Notification
	if err := r.coll.FindOne(ctx, byID(id)).Decode(&n); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, err
		}
		return nil, fmt.Errorf("find notification by id: %w", err)
	}
	return &n, nil
}

// ListForAudience pages the notifications visible to the audience, newest first.
func (r *NotificationRepository) ListForAudience(ctx context.Context, audience models.NotificationAudience, filter models.NotificationFilter) ([]models.Notification, int, error) {
	query := audienceFilter(audience, filter.UnreadOnly)
	page, size := normalizePage(filter.Page, filter.PageSize)

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * size)).
		SetLimit(int64(size))
	cur, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	items := make([]models.Notification, 0, size)
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, fmt.Errorf("decode notifications: %w", err)
	}
	return items, int(total), nil
}

// CountUnread counts visible notifications the user has not acknowledged.
func (r *NotificationRepository) CountUnread(ctx context.Context, audience models.NotificationAudience) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, audienceFilter(audience, true))
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead adds the user to readBy. Repeated calls are no-ops.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID models.ID) error {
	res, err := r.coll.UpdateOne(ctx, byID(id), bson.M{"$addToSet": bson.M{"readBy": userID}})
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id models.ID) error {
	res, err := r.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteByCourse drops notifications scoped to a removed course.
func (r *NotificationRepository) DeleteByCourse(ctx context.Context, courseID models.ID) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"courseId": bson.M{"$in": courseID.Variants()}}); err != nil {
		return fmt.Errorf("delete course notifications: %w", err)
	}
	return nil
}

func audienceFilter(audience models.NotificationAudience, unreadOnly bool) bson.M {
	scopes := bson.A{
		bson.M{"global": true},
		bson.M{"recipients": bson.M{"$in": audience.UserID.Variants()}},
	}
	if len(audience.CourseIDs) > 0 {
		scopes = append(scopes, bson.M{"courseId": bson.M{"$in": variantsOf(audience.CourseIDs)}})
	}
	query := bson.M{"$or": scopes}
	if unreadOnly {
		query["readBy"] = bson.M{"$nin": audience.UserID.Variants()}
	}
	return query
}
