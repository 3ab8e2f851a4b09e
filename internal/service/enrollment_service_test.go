package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

func newEnrollmentFixture(t *testing.T, policy models.CapacityPolicy, courses ...*models.Course) (*EnrollmentService, *memCourseStore, *memCache) {
	t.Helper()
	store := newMemCourseStore(courses...)
	cacheRepo := newMemCache()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewEnrollmentService(store, newFixtureUsers(), cache, NewMetricsService(), nil, zap.NewNop(), EnrollmentConfig{CapacityPolicy: policy})
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store, cacheRepo
}

func stateOf(t *testing.T, store *memCourseStore, courseID, studentID models.ID) models.MembershipState {
	t.Helper()
	c := store.get(courseID)
	require.NotNil(t, c)
	return c.StateOf(studentID)
}

func TestEnrollmentRequestThenDuplicate(t *testing.T) {
	course := newCourse(0)
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	status, err := svc.Request(ctx, actorOf(studentA), course.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipPending, status.State)
	assert.Equal(t, models.MembershipPending, stateOf(t, store, course.ID, studentA.ID))

	_, err = svc.Request(ctx, actorOf(studentA), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyPending)
	assert.Len(t, store.get(course.ID).PendingStudents, 1)
}

func TestEnrollmentRequestAlreadyEnrolled(t *testing.T) {
	course := newCourse(0)
	course.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	svc, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	_, err := svc.Request(context.Background(), actorOf(studentA), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
}

func TestEnrollmentRequestOnlyStudents(t *testing.T) {
	course := newCourse(0)
	svc, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	_, err := svc.Request(context.Background(), actorOf(otherTeacher), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestEnrollmentRequestUnknownCourse(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled)

	_, err := svc.Request(context.Background(), actorOf(studentA), models.NewID())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEnrollmentApproveByOwner(t *testing.T) {
	course := newCourse(0)
	course.PendingStudents = []models.ID{studentA.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	status, err := svc.Approve(context.Background(), actorOf(teacherUser), course.ID, studentA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipEnrolled, status.State)

	stored := store.get(course.ID)
	assert.Equal(t, models.MembershipEnrolled, stored.StateOf(studentA.ID))
	assert.Empty(t, stored.PendingStudents)
	rec, ok := stored.Students.Find(studentA.ID)
	require.True(t, ok)
	assert.Equal(t, models.EnrollmentStatusActive, rec.Status)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), rec.EnrolledAt)
}

func TestEnrollmentApproveByOtherTeacherLeavesStateUnchanged(t *testing.T) {
	course := newCourse(0)
	course.PendingStudents = []models.ID{studentA.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	_, err := svc.Approve(context.Background(), actorOf(otherTeacher), course.ID, studentA.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)
	assert.Equal(t, models.MembershipPending, stateOf(t, store, course.ID, studentA.ID))
	assert.Zero(t, store.writes)
}

func TestEnrollmentApproveWithoutRequest(t *testing.T) {
	course := newCourse(0)
	svc, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	_, err := svc.Approve(context.Background(), actorOf(teacherUser), course.ID, studentA.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotPending)
}

func TestEnrollmentRejectAndCancel(t *testing.T) {
	course := newCourse(0)
	course.PendingStudents = []models.ID{studentA.ID, studentB.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	_, err := svc.Reject(ctx, actorOf(otherTeacher), course.ID, studentA.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	status, err := svc.Reject(ctx, actorOf(teacherUser), course.ID, studentA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipNone, status.State)

	_, err = svc.CancelRequest(ctx, actorOf(studentB), course.ID)
	require.NoError(t, err)

	_, err = svc.CancelRequest(ctx, actorOf(studentB), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotPending)
	assert.Empty(t, store.get(course.ID).PendingStudents)
}

func TestEnrollmentAdminAddIsIdempotent(t *testing.T) {
	course := newCourse(1)
	course.Students = models.Roster{{StudentID: studentB.ID, Status: models.EnrollmentStatusActive}}
	course.PendingStudents = []models.ID{studentA.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	_, err := svc.AdminAdd(ctx, actorOf(adminUser), course.ID, studentA.ID)
	require.NoError(t, err)
	once := store.get(course.ID)

	status, err := svc.AdminAdd(ctx, actorOf(adminUser), course.ID, studentA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipEnrolled, status.State)
	twice := store.get(course.ID)

	assert.Equal(t, once.Students.StudentIDs(), twice.Students.StudentIDs())
	assert.Len(t, twice.Students, 2, "admin add ignores capacity")
	assert.Empty(t, twice.PendingStudents)
}

func TestEnrollmentAdminAddClearsStrayPendingEntry(t *testing.T) {
	course := newCourse(0)
	course.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	course.PendingStudents = []models.ID{studentA.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	_, err := svc.AdminAdd(context.Background(), actorOf(adminUser), course.ID, studentA.ID)
	require.NoError(t, err)

	stored := store.get(course.ID)
	assert.Len(t, stored.Students, 1)
	assert.Empty(t, stored.PendingStudents)
}

func TestEnrollmentAdminAddRequiresAdminAndStudent(t *testing.T) {
	course := newCourse(0)
	svc, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	_, err := svc.AdminAdd(ctx, actorOf(teacherUser), course.ID, studentA.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.AdminAdd(ctx, actorOf(adminUser), course.ID, otherTeacher.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestEnrollmentAdminRemove(t *testing.T) {
	course := newCourse(0)
	course.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	course.PendingStudents = []models.ID{studentB.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	_, err := svc.AdminRemove(ctx, actorOf(adminUser), course.ID, studentA.ID)
	require.NoError(t, err)
	_, err = svc.AdminRemove(ctx, actorOf(adminUser), course.ID, studentB.ID)
	require.NoError(t, err)
	_, err = svc.AdminRemove(ctx, actorOf(adminUser), course.ID, studentC.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotEnrolled)

	stored := store.get(course.ID)
	assert.Empty(t, stored.Students)
	assert.Empty(t, stored.PendingStudents)
}

func TestEnrollmentLegacyIdentifierForms(t *testing.T) {
	// A roster written by an older client: one bare string id, one bare ObjectID.
	raw, err := bson.Marshal(bson.M{
		"_id":             models.NewID(),
		"teacherId":       teacherUser.ID.Hex(),
		"maxStudents":     0,
		"students":        bson.A{studentA.ID.Hex(), studentB.ID.ObjectID()},
		"pendingStudents": bson.A{studentC.ID.Hex()},
	})
	require.NoError(t, err)
	var course models.Course
	require.NoError(t, bson.Unmarshal(raw, &course))

	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, &course)
	ctx := context.Background()

	byString, err := svc.Status(ctx, actorOf(studentA), course.ID, models.MustParseID(studentA.ID.Hex()))
	require.NoError(t, err)
	assert.Equal(t, models.MembershipEnrolled, byString.State)

	byObjectID, err := svc.Status(ctx, actorOf(studentB), course.ID, models.IDFromObjectID(studentB.ID.ObjectID()))
	require.NoError(t, err)
	assert.Equal(t, models.MembershipEnrolled, byObjectID.State)

	_, err = svc.Approve(ctx, actorOf(teacherUser), course.ID, studentC.ID)
	require.NoError(t, err)

	_, err = svc.Unenroll(ctx, actorOf(studentA), course.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipNone, stateOf(t, store, course.ID, studentA.ID))
}

func TestEnrollmentCapacityBoundary(t *testing.T) {
	atLimit := newCourse(2)
	atLimit.Students = models.Roster{
		{StudentID: studentA.ID, Status: models.EnrollmentStatusActive},
		{StudentID: studentB.ID, Status: models.EnrollmentStatusActive},
	}
	belowLimit := newCourse(2)
	belowLimit.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}

	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, atLimit, belowLimit)
	ctx := context.Background()

	_, err := svc.Request(ctx, actorOf(studentC), atLimit.ID)
	assert.ErrorIs(t, err, appErrors.ErrCourseFull)
	assert.Equal(t, models.MembershipNone, stateOf(t, store, atLimit.ID, studentC.ID))

	_, err = svc.Request(ctx, actorOf(studentC), belowLimit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipPending, stateOf(t, store, belowLimit.ID, studentC.ID))
}

func TestEnrollmentCapacityCountingPending(t *testing.T) {
	course := newCourse(2)
	course.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	course.PendingStudents = []models.ID{studentB.ID}
	ctx := context.Background()

	lenient, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	_, err := lenient.Request(ctx, actorOf(studentC), course.ID)
	require.NoError(t, err)

	strict, _, _ := newEnrollmentFixture(t, models.CapacityEnrolledAndPending, course)
	_, err = strict.Request(ctx, actorOf(studentC), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrCourseFull)
}

// Pending requests are not capped under the default policy, so the second approval
// is the one that fails.
func TestEnrollmentSingleSeatScenario(t *testing.T) {
	course := newCourse(1)
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	_, err := svc.Request(ctx, actorOf(studentA), course.ID)
	require.NoError(t, err)
	_, err = svc.Request(ctx, actorOf(studentB), course.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, actorOf(teacherUser), course.ID, studentA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipEnrolled, stateOf(t, store, course.ID, studentA.ID))

	_, err = svc.Approve(ctx, actorOf(teacherUser), course.ID, studentB.ID)
	assert.ErrorIs(t, err, appErrors.ErrCourseFull)
	assert.Equal(t, models.MembershipPending, stateOf(t, store, course.ID, studentB.ID))

	// Once full, fresh requests are refused outright.
	_, err = svc.Request(ctx, actorOf(studentC), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrCourseFull)
}

// B asks to join only after A took the single seat. The request is refused because
// the roster is already at its limit; B never reaches the pending list.
func TestEnrollmentRequestAfterLastSeatTaken(t *testing.T) {
	for _, policy := range []models.CapacityPolicy{models.CapacityEnrolled, models.CapacityEnrolledAndPending} {
		t.Run(string(policy), func(t *testing.T) {
			course := newCourse(1)
			svc, store, _ := newEnrollmentFixture(t, policy, course)
			ctx := context.Background()

			_, err := svc.Request(ctx, actorOf(studentA), course.ID)
			require.NoError(t, err)
			assert.Equal(t, models.MembershipPending, stateOf(t, store, course.ID, studentA.ID))

			_, err = svc.Approve(ctx, actorOf(teacherUser), course.ID, studentA.ID)
			require.NoError(t, err)
			assert.Equal(t, models.MembershipEnrolled, stateOf(t, store, course.ID, studentA.ID))

			_, err = svc.Request(ctx, actorOf(studentB), course.ID)
			assert.ErrorIs(t, err, appErrors.ErrCourseFull)
			assert.Equal(t, models.MembershipNone, stateOf(t, store, course.ID, studentB.ID))

			_, err = svc.Approve(ctx, actorOf(teacherUser), course.ID, studentB.ID)
			assert.ErrorIs(t, err, appErrors.ErrNotPending)
		})
	}
}

func TestEnrollmentUnenroll(t *testing.T) {
	course := newCourse(0)
	course.Students = models.Roster{
		{StudentID: studentA.ID, Status: models.EnrollmentStatusActive},
		{StudentID: studentB.ID, Status: models.EnrollmentStatusActive},
	}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	_, err := svc.Unenroll(ctx, actorOf(studentC), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotEnrolled)
	assert.Len(t, store.get(course.ID).Students, 2)

	status, err := svc.Unenroll(ctx, actorOf(studentA), course.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipNone, status.State)
	assert.Len(t, store.get(course.ID).Students, 1)
	assert.Equal(t, models.MembershipNone, stateOf(t, store, course.ID, studentA.ID))
}

func TestEnrollmentApproveLosesRaceForLastSeat(t *testing.T) {
	course := newCourse(1)
	course.PendingStudents = []models.ID{studentA.ID, studentB.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	var once sync.Once
	store.beforeWrite = func(op string) {
		if op != "approve" {
			return
		}
		once.Do(func() {
			// Another approval lands between our read and our write.
			store.mu.Lock()
			c := store.courses[course.ID.Hex()]
			c.PendingStudents = without(c.PendingStudents, studentB.ID)
			c.Students = append(c.Students, models.EnrollmentRecord{StudentID: studentB.ID, Status: models.EnrollmentStatusActive})
			store.mu.Unlock()
		})
	}

	_, err := svc.Approve(context.Background(), actorOf(teacherUser), course.ID, studentA.ID)
	assert.ErrorIs(t, err, appErrors.ErrCourseFull)

	stored := store.get(course.ID)
	assert.Len(t, stored.Students, 1)
	assert.Equal(t, models.MembershipPending, stored.StateOf(studentA.ID))
}

func TestEnrollmentConcurrentApprovalsNeverExceedCapacity(t *testing.T) {
	course := newCourse(2)
	course.PendingStudents = []models.ID{studentA.ID, studentB.ID, studentC.ID}
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)

	var wg sync.WaitGroup
	for _, s := range []*models.User{studentA, studentB, studentC} {
		wg.Add(1)
		go func(id models.ID) {
			defer wg.Done()
			_, _ = svc.Approve(context.Background(), actorOf(teacherUser), course.ID, id)
		}(s.ID)
	}
	wg.Wait()

	stored := store.get(course.ID)
	assert.Len(t, stored.Students, 2)
	assert.Len(t, stored.PendingStudents, 1)
	for _, rec := range stored.Students {
		assert.False(t, models.ContainsID(stored.PendingStudents, rec.StudentID))
	}
}

func TestEnrollmentConflictAfterRepeatedRaces(t *testing.T) {
	course := newCourse(0)
	svc, store, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	failing := &failingPendingStore{memCourseStore: store}
	svc.repo = failing

	_, err := svc.Request(context.Background(), actorOf(studentA), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, maxTransitionAttempts, failing.attempts)
}

// failingPendingStore reports every request write as lost to a concurrent update.
type failingPendingStore struct {
	*memCourseStore
	attempts int
}

func (f *failingPendingStore) AddPending(ctx context.Context, courseID, studentID models.ID, policy models.CapacityPolicy) (bool, error) {
	f.attempts++
	return false, nil
}

func TestEnrollmentStudentCoursesCachedAndInvalidated(t *testing.T) {
	course := newCourse(0)
	course.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	other := newCourse(0)
	svc, _, cache := newEnrollmentFixture(t, models.CapacityEnrolled, course, other)
	ctx := context.Background()

	first, hit, err := svc.StudentCourses(ctx, studentA.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, first, 1)
	assert.Equal(t, models.MembershipEnrolled, first[0].State)

	_, hit, err = svc.StudentCourses(ctx, studentA.ID)
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = svc.Request(ctx, actorOf(studentA), other.ID)
	require.NoError(t, err)
	assert.False(t, cache.has(StudentCoursesKey(studentA.ID)))

	refreshed, hit, err := svc.StudentCourses(ctx, studentA.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, refreshed, 2)
}

func TestEnrollmentReadViews(t *testing.T) {
	course := newCourse(0)
	course.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	course.PendingStudents = []models.ID{studentB.ID}
	svc, _, _ := newEnrollmentFixture(t, models.CapacityEnrolled, course)
	ctx := context.Background()

	pending, err := svc.PendingRequests(ctx, actorOf(teacherUser), course.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, studentB.Email, pending[0].Email)

	_, err = svc.PendingRequests(ctx, actorOf(otherTeacher), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	roster, err := svc.Roster(ctx, actorOf(studentA), course.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, studentA.Name, roster[0].Student.Name)

	_, err = svc.Roster(ctx, actorOf(studentB), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Status(ctx, actorOf(studentB), course.ID, studentA.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	ids, err := svc.EnrolledCourseIDs(ctx, studentB.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestParseCapacityPolicy(t *testing.T) {
	assert.Equal(t, models.CapacityEnrolledAndPending, ParseCapacityPolicy("enrolled_and_pending"))
	assert.Equal(t, models.CapacityEnrolled, ParseCapacityPolicy("enrolled"))
	assert.Equal(t, models.CapacityEnrolled, ParseCapacityPolicy("bogus"))
	assert.Equal(t, models.CapacityEnrolled, ParseCapacityPolicy(""))
}
