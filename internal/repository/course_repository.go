package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/pkg/database"
)

// CourseRepository provides document store access for courses and their membership lists.
// Every membership mutation is a single conditional update on the course document.
type CourseRepository struct {
	coll *mongo.Collection
}

// NewCourseRepository creates a new instance of CourseRepository.
func NewCourseRepository(db *mongo.Database) *CourseRepository {
	return &CourseRepository{coll: db.Collection(database.CollectionCourses)}
}

// EnsureIndexes creates lookup indexes. The end-date TTL index is optional because it
// deletes finished courses.
func (r *CourseRepository) EnsureIndexes(ctx context.Context, ttlOnEndDate bool) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "teacherId", Value: 1}}, Options: options.Index().SetName("idx_teacher")},
		{Keys: bson.D{{Key: "students.studentId", Value: 1}}, Options: options.Index().SetName("idx_students")},
		{Keys: bson.D{{Key: "pendingStudents", Value: 1}}, Options: options.Index().SetName("idx_pending")},
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetName("idx_slug")},
	}
	if ttlOnEndDate {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "endDate", Value: 1}},
			Options: options.Index().SetName("ttl_end_date").SetExpireAfterSeconds(0),
		})
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("ensure course indexes: %w", err)
	}
	return nil
}

// Create inserts a course with empty membership lists.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID.IsZero() {
		course.ID = models.NewID()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	if course.Students == nil {
		course.Students = models.Roster{}
	}
	if course.PendingStudents == nil {
		course.PendingStudents = []models.ID{}
	}
	if _, err := r.coll.InsertOne(ctx, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id models.ID) (*models.Course, error) {
	var course models.Course
	if err := r.coll.FindOne(ctx, byID(id)).Decode(&course); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// Update persists the descriptive fields of a course. Membership lists are untouched.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, byID(course.ID), bson.M{"$set": bson.M{
		"title":       course.Title,
		"slug":        course.Slug,
		"description": course.Description,
		"startDate":   course.StartDate,
		"endDate":     course.EndDate,
		"meetingLink": course.MeetingLink,
		"schedule":    course.Schedule,
		"maxStudents": course.MaxStudents,
		"updatedAt":   course.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete removes a course document.
func (r *CourseRepository) Delete(ctx context.Context, id models.ID) error {
	res, err := r.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// List returns courses matching the filter with the total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	query := courseListFilter(filter)
	page, size := normalizePage(filter.Page, filter.PageSize)

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * size)).
		SetLimit(int64(size))
	cur, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	courses := make([]models.Course, 0, size)
	if err := cur.All(ctx, &courses); err != nil {
		return nil, 0, fmt.Errorf("decode courses: %w", err)
	}
	return courses, int(total), nil
}

// FindByTeacher returns every course owned by the teacher.
func (r *CourseRepository) FindByTeacher(ctx context.Context, teacherID models.ID) ([]models.Course, error) {
	cur, err := r.coll.Find(ctx, bson.M{"teacherId": bson.M{"$in": teacherID.Variants()}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find courses by teacher: %w", err)
	}
	var courses []models.Course
	if err := cur.All(ctx, &courses); err != nil {
		return nil, fmt.Errorf("decode courses: %w", err)
	}
	return courses, nil
}

// FindByStudent returns the courses a student is enrolled in, and optionally those
// with a pending request, under either stored roster convention.
func (r *CourseRepository) FindByStudent(ctx context.Context, studentID models.ID, includePending bool) ([]models.Course, error) {
	cur, err := r.coll.Find(ctx, studentCoursesFilter(studentID, includePending),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find courses by student: %w", err)
	}
	var courses []models.Course
	if err := cur.All(ctx, &courses); err != nil {
		return nil, fmt.Errorf("decode courses: %w", err)
	}
	return uniqueCourses(courses), nil
}

// AddPending appends the student to the pending list when the student is in neither
// list and the course has room under the policy. It reports whether the course changed.
func (r *CourseRepository) AddPending(ctx context.Context, courseID, studentID models.ID, policy models.CapacityPolicy) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, requestFilter(courseID, studentID, policy), bson.M{
		"$addToSet": bson.M{"pendingStudents": studentID},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("add pending student: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// Approve moves a pending student into the roster in one update. The filter requires
// teacher ownership, a pending entry, no roster entry and a free seat.
func (r *CourseRepository) Approve(ctx context.Context, courseID, teacherID models.ID, record models.EnrollmentRecord) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, approveFilter(courseID, teacherID, record.StudentID), bson.M{
		"$pull": bson.M{"pendingStudents": bson.M{"$in": record.StudentID.Variants()}},
		"$push": bson.M{"students": record},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("approve student: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// RemovePending drops a pending request. A non-zero ownerID restricts the update to
// courses owned by that teacher.
func (r *CourseRepository) RemovePending(ctx context.Context, courseID, studentID, ownerID models.ID) (bool, error) {
	filter := bson.M{
		"_id":             idClause(courseID),
		"pendingStudents": bson.M{"$in": studentID.Variants()},
	}
	if !ownerID.IsZero() {
		filter["teacherId"] = bson.M{"$in": ownerID.Variants()}
	}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{
		"$pull": bson.M{"pendingStudents": bson.M{"$in": studentID.Variants()}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("remove pending student: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// RemoveEnrolled drops the student's roster entry, whether stored as a sub-document or
// as a bare id.
func (r *CourseRepository) RemoveEnrolled(ctx context.Context, courseID, studentID models.ID) (bool, error) {
	now := time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": idClause(courseID), "students.studentId": bson.M{"$in": studentID.Variants()}},
		bson.M{
			"$pull": bson.M{"students": bson.M{"studentId": bson.M{"$in": studentID.Variants()}}},
			"$set":  bson.M{"updatedAt": now},
		})
	if err != nil {
		return false, fmt.Errorf("remove enrolled student: %w", err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	res, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": idClause(courseID), "students": bson.M{"$in": studentID.Variants()}},
		bson.M{
			"$pull": bson.M{"students": bson.M{"$in": studentID.Variants()}},
			"$set":  bson.M{"updatedAt": now},
		})
	if err != nil {
		return false, fmt.Errorf("remove legacy enrolled student: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ForceEnroll adds a roster entry regardless of owner and capacity and clears any
// pending request. Already enrolled students are left as they are.
func (r *CourseRepository) ForceEnroll(ctx context.Context, courseID models.ID, record models.EnrollmentRecord) (bool, error) {
	variants := record.StudentID.Variants()
	res, err := r.coll.UpdateOne(ctx, bson.M{
		"_id":                idClause(courseID),
		"students.studentId": bson.M{"$nin": variants},
		"students":           bson.M{"$nin": variants},
	}, bson.M{
		"$pull": bson.M{"pendingStudents": bson.M{"$in": variants}},
		"$push": bson.M{"students": record},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("force enroll student: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ReplaceMembership rewrites the membership lists and owner in canonical form.
func (r *CourseRepository) ReplaceMembership(ctx context.Context, course *models.Course) error {
	_, err := r.coll.UpdateOne(ctx, byID(course.ID), bson.M{"$set": bson.M{
		"teacherId":       course.TeacherID,
		"students":        course.Students,
		"pendingStudents": course.PendingStudents,
	}})
	if err != nil {
		return fmt.Errorf("replace course membership: %w", err)
	}
	return nil
}

// EachBackfillCandidate streams courses whose stored membership deviates from the
// canonical schema.
func (r *CourseRepository) EachBackfillCandidate(ctx context.Context, fn func(*models.Course) error) error {
	cur, err := r.coll.Find(ctx, backfillFilter())
	if err != nil {
		return fmt.Errorf("find backfill candidates: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var course models.Course
		if err := cur.Decode(&course); err != nil {
			return fmt.Errorf("decode course %v: %w", cur.Current.Lookup("_id"), err)
		}
		if err := fn(&course); err != nil {
			return err
		}
	}
	return cur.Err()
}

func courseListFilter(filter models.CourseFilter) bson.M {
	query := bson.M{}
	if filter.TeacherID != nil && !filter.TeacherID.IsZero() {
		query["teacherId"] = bson.M{"$in": filter.TeacherID.Variants()}
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := regexp.QuoteMeta(search)
		query["$or"] = bson.A{
			bson.M{"title": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"description": bson.M{"$regex": pattern, "$options": "i"}},
		}
	}
	return query
}

// capacityClause matches courses with a free seat. Under the enrolled policy only the
// roster counts; otherwise pending requests count as well.
func capacityClause(policy models.CapacityPolicy) bson.M {
	occupied := interface{}(bson.M{"$size": bson.M{"$ifNull": bson.A{"$students", bson.A{}}}})
	if policy == models.CapacityEnrolledAndPending {
		occupied = bson.M{"$add": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$students", bson.A{}}}},
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$pendingStudents", bson.A{}}}},
		}}
	}
	return bson.M{"$or": bson.A{
		bson.M{"maxStudents": bson.M{"$exists": false}},
		bson.M{"maxStudents": bson.M{"$lte": 0}},
		bson.M{"$expr": bson.M{"$lt": bson.A{occupied, "$maxStudents"}}},
	}}
}

// notMemberClause matches courses where the student is in neither list.
func notMemberClause(studentID models.ID) bson.M {
	variants := studentID.Variants()
	return bson.M{
		"students.studentId": bson.M{"$nin": variants},
		"students":           bson.M{"$nin": variants},
		"pendingStudents":    bson.M{"$nin": variants},
	}
}

func requestFilter(courseID, studentID models.ID, policy models.CapacityPolicy) bson.M {
	return bson.M{"$and": bson.A{
		byID(courseID),
		notMemberClause(studentID),
		capacityClause(policy),
	}}
}

func approveFilter(courseID, teacherID, studentID models.ID) bson.M {
	variants := studentID.Variants()
	return bson.M{"$and": bson.A{
		bson.M{
			"_id":                idClause(courseID),
			"teacherId":          bson.M{"$in": teacherID.Variants()},
			"pendingStudents":    bson.M{"$in": variants},
			"students.studentId": bson.M{"$nin": variants},
			"students":           bson.M{"$nin": variants},
		},
		capacityClause(models.CapacityEnrolled),
	}}
}

func studentCoursesFilter(studentID models.ID, includePending bool) bson.M {
	variants := studentID.Variants()
	clauses := bson.A{
		bson.M{"students.studentId": bson.M{"$in": variants}},
		bson.M{"students": bson.M{"$in": variants}},
	}
	if includePending {
		clauses = append(clauses, bson.M{"pendingStudents": bson.M{"$in": variants}})
	}
	return bson.M{"$or": clauses}
}

func backfillFilter() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"teacherId": bson.M{"$type": "string"}},
		bson.M{"students": bson.M{"$elemMatch": bson.M{"$type": bson.A{"objectId", "string"}}}},
		bson.M{"students.studentId": bson.M{"$type": "string"}},
		bson.M{"pendingStudents": bson.M{"$type": "string"}},
		bson.M{"$expr": bson.M{"$gt": bson.A{
			bson.M{"$size": bson.M{"$setIntersection": bson.A{
				bson.M{"$ifNull": bson.A{"$pendingStudents", bson.A{}}},
				bson.M{"$ifNull": bson.A{"$students.studentId", bson.A{}}},
			}}},
			0,
		}}},
	}}
}

func uniqueCourses(courses []models.Course) []models.Course {
	seen := make(map[string]struct{}, len(courses))
	out := make([]models.Course, 0, len(courses))
	for _, c := range courses {
		key := c.ID.Hex()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
