package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/pkg/database"
)

func updateResult(matched, modified int) bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: matched},
		bson.E{Key: "nModified", Value: modified},
	)
}

// sentUpdateFilter returns the query of the first statement of the last update command.
func sentUpdateFilter(mt *mtest.T) bson.Raw {
	mt.Helper()
	evt := mt.GetStartedEvent()
	require.NotNil(mt, evt)
	require.Equal(mt, "update", evt.CommandName)
	stmt := evt.Command.Lookup("updates").Array().Index(0).Value().Document()
	return stmt.Lookup("q").Document()
}

func TestCourseRepositoryApprove(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	courseID, teacherID, studentID := models.NewID(), models.NewID(), models.NewID()
	record := models.EnrollmentRecord{StudentID: studentID, Status: models.EnrollmentStatusActive, EnrolledAt: time.Now().UTC()}

	mt.Run("moves the student when the guarded update applies", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(updateResult(1, 1))

		changed, err := repo.Approve(context.Background(), courseID, teacherID, record)
		require.NoError(mt, err)
		assert.True(mt, changed)

		clauses, err := sentUpdateFilter(mt).Lookup("$and").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, clauses, 2)
		ids, err := clauses[0].Document().Lookup("_id", "$in").Array().Values()
		require.NoError(mt, err)
		assert.Len(mt, ids, 2, "matches both stored id encodings")
	})

	mt.Run("reports no change when the guard did not match", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(updateResult(0, 0))

		changed, err := repo.Approve(context.Background(), courseID, teacherID, record)
		require.NoError(mt, err)
		assert.False(mt, changed)
	})

	mt.Run("wraps driver errors", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11000, Message: "boom"}))

		_, err := repo.Approve(context.Background(), courseID, teacherID, record)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "approve student")
	})
}

func TestCourseRepositoryAddPending(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	courseID, studentID := models.NewID(), models.NewID()

	mt.Run("added", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(updateResult(1, 1))

		changed, err := repo.AddPending(context.Background(), courseID, studentID, models.CapacityEnrolled)
		require.NoError(mt, err)
		assert.True(mt, changed)
	})

	mt.Run("already present or full", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(updateResult(0, 0))

		changed, err := repo.AddPending(context.Background(), courseID, studentID, models.CapacityEnrolledAndPending)
		require.NoError(mt, err)
		assert.False(mt, changed)
	})
}

func TestCourseRepositoryLegacyStringID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	courseID, studentID := models.NewID(), models.NewID()
	ns := "classroom." + database.CollectionCourses

	mt.Run("loads and removes through a string _id", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: courseID.Hex()},
			{Key: "title", Value: "Legacy"},
			{Key: "pendingStudents", Value: bson.A{studentID.Hex()}},
		}))

		course, err := repo.FindByID(context.Background(), courseID)
		require.NoError(mt, err)
		assert.True(mt, course.ID.Equal(courseID))
		assert.Equal(mt, models.MembershipPending, course.StateOf(studentID))

		mt.ClearEvents()
		mt.AddMockResponses(updateResult(1, 1))
		changed, err := repo.RemovePending(context.Background(), courseID, studentID, models.NilID)
		require.NoError(mt, err)
		assert.True(mt, changed)

		ids, err := sentUpdateFilter(mt).Lookup("_id", "$in").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, ids, 2)
		assert.Equal(mt, courseID.Hex(), ids[1].StringValue())
	})

	mt.Run("missing course", func(mt *mtest.T) {
		repo := NewCourseRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.FindByID(context.Background(), courseID)
		assert.ErrorIs(mt, err, mongo.ErrNoDocuments)
	})
}
