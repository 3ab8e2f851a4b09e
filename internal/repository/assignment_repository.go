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

// AssignmentRepository provides document store access for assignments and their submissions.
type AssignmentRepository struct {
	coll *mongo.Collection
}

// NewAssignmentRepository creates a new instance of AssignmentRepository.
func NewAssignmentRepository(db *mongo.Database) *AssignmentRepository {
	return &AssignmentRepository{coll: db.Collection(database.CollectionAssignments)}
}

// EnsureIndexes creates lookup indexes.
func (r *AssignmentRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "courseId", Value: 1}, {Key: "dueDate", Value: 1}}, Options: options.Index().SetName("idx_course_due")},
		{Keys: bson.D{{Key: "submissions.studentId", Value: 1}}, Options: options.Index().SetName("idx_submission_student")},
	})
	if err != nil {
		return fmt.Errorf("ensure assignment indexes: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID.IsZero() {
		assignment.ID = models.NewID()
	}
	now := time.Now().UTC()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	if assignment.Submissions == nil {
		assignment.Submissions = []models.Submission{}
	}
	if _, err := r.coll.InsertOne(ctx, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) FindByID(ctx context.Context, id models.ID) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.coll.FindOne(ctx, byID(id)).Decode(&assignment); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by id: %w", err)
	}
	return &assignment, nil
}

// ListByCourse returns the course assignments ordered by due date.
func (r *AssignmentRepository) ListByCourse(ctx context.Context, courseID models.ID) ([]models.Assignment, error) {
	cur, err := r.coll.Find(ctx, bson.M{"courseId": bson.M{"$in": courseID.Variants()}},
		options.Find().SetSort(bson.D{{Key: "dueDate", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	var assignments []models.Assignment
	if err := cur.All(ctx, &assignments); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	return assignments, nil
}

// Update persists the descriptive fields. Submissions are untouched.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, byID(assignment.ID), bson.M{"$set": bson.M{
		"title":       assignment.Title,
		"description": assignment.Description,
		"dueDate":     assignment.DueDate,
		"maxScore":    assignment.MaxScore,
		"updatedAt":   assignment.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *AssignmentRepository) Delete(ctx context.Context, id models.ID) error {
	res, err := r.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteByCourse removes every assignment of a course and returns how many went.
func (r *AssignmentRepository) DeleteByCourse(ctx context.Context, courseID models.ID) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"courseId": bson.M{"$in": courseID.Variants()}})
	if err != nil {
		return 0, fmt.Errorf("delete course assignments: %w", err)
	}
	return res.DeletedCount, nil
}

// AddSubmission appends the submission unless the student already submitted or the
// due date passed at the given instant. It reports whether the submission was stored.
func (r *AssignmentRepository) AddSubmission(ctx context.Context, assignmentID models.ID, submission models.Submission) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, submitFilter(assignmentID, submission.StudentID, submission.SubmittedAt), bson.M{
		"$push": bson.M{"submissions": submission},
	})
	if err != nil {
		return false, fmt.Errorf("add submission: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// GradeSubmission sets the grade on the student's submission. It reports whether a
// submission owned by the teacher's assignment matched.
func (r *AssignmentRepository) GradeSubmission(ctx context.Context, assignmentID, teacherID, studentID models.ID, grade float64, feedback string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":                   idClause(assignmentID),
		"teacherId":             bson.M{"$in": teacherID.Variants()},
		"submissions.studentId": bson.M{"$in": studentID.Variants()},
	}
	update := bson.M{"$set": bson.M{
		"submissions.$[s].grade":    grade,
		"submissions.$[s].feedback": feedback,
		"submissions.$[s].status":   models.SubmissionStatusGraded,
		"submissions.$[s].gradedAt": at,
		"updatedAt":                 at,
	}}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"s.studentId": bson.M{"$in": studentID.Variants()}}},
	})
	res, err := r.coll.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return false, fmt.Errorf("grade submission: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func submitFilter(assignmentID, studentID models.ID, at time.Time) bson.M {
	return bson.M{
		"_id":                   idClause(assignmentID),
		"dueDate":               bson.M{"$gte": at},
		"submissions.studentId": bson.M{"$nin": studentID.Variants()},
	}
}
