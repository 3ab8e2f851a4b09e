package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/noah-isme/classroom-api/internal/models"
)

func TestAudienceFilterScopes(t *testing.T) {
	user := models.NewID()
	course := models.NewID()

	query := audienceFilter(models.NotificationAudience{UserID: user, CourseIDs: []models.ID{course}}, false)
	scopes := query["$or"].(bson.A)
	require.Len(t, scopes, 3)
	assert.Equal(t, bson.M{"global": true}, scopes[0])
	assert.Equal(t, bson.M{"recipients": bson.M{"$in": user.Variants()}}, scopes[1])
	assert.Equal(t, bson.M{"courseId": bson.M{"$in": course.Variants()}}, scopes[2])
	_, filtersRead := query["readBy"]
	assert.False(t, filtersRead)

	unread := audienceFilter(models.NotificationAudience{UserID: user}, true)
	assert.Len(t, unread["$or"].(bson.A), 2)
	assert.Equal(t, bson.M{"$nin": user.Variants()}, unread["readBy"])
}

func TestSubmitFilterGuardsDeadlineAndDuplicates(t *testing.T) {
	assignment, student := models.NewID(), models.NewID()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	filter := submitFilter(assignment, student, at)
	assert.Equal(t, bson.M{"$in": assignment.Variants()}, filter["_id"])
	assert.Equal(t, bson.M{"$gte": at}, filter["dueDate"])
	assert.Equal(t, bson.M{"$nin": student.Variants()}, filter["submissions.studentId"])
}

func TestVariantsOfSkipsZero(t *testing.T) {
	a := models.NewID()
	out := variantsOf([]models.ID{a, models.NilID})
	assert.Equal(t, a.Variants(), out)
}

func TestUserListFilter(t *testing.T) {
	role := models.RoleTeacher
	active := true
	query := userListFilter(models.UserFilter{Role: &role, Active: &active, Search: "ana"})
	assert.Equal(t, role, query["role"])
	assert.Equal(t, bson.M{"$ne": false}, query["active"], "accounts without the field count as active")
	assert.Len(t, query["$or"].(bson.A), 2)

	inactive := false
	query = userListFilter(models.UserFilter{Active: &inactive})
	assert.Equal(t, false, query["active"])
}
