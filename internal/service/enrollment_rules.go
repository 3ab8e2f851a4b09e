package service

import (
	"errors"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

// errNothingToDo marks an idempotent transition whose target state already holds.
var errNothingToDo = errors.New("nothing to do")

// ParseCapacityPolicy maps the configured policy name. Unknown names fall back to
// counting enrolled students only.
func ParseCapacityPolicy(raw string) models.CapacityPolicy {
	if models.CapacityPolicy(raw) == models.CapacityEnrolledAndPending {
		return models.CapacityEnrolledAndPending
	}
	return models.CapacityEnrolled
}

func checkRequest(course *models.Course, studentID models.ID, policy models.CapacityPolicy) error {
	switch course.StateOf(studentID) {
	case models.MembershipPending:
		return appErrors.ErrAlreadyPending
	case models.MembershipEnrolled:
		return appErrors.ErrAlreadyEnrolled
	}
	if !course.AcceptsRequests(policy) {
		return appErrors.ErrCourseFull
	}
	return nil
}

func checkCancel(course *models.Course, studentID models.ID) error {
	if course.StateOf(studentID) != models.MembershipPending {
		return appErrors.ErrNotPending
	}
	return nil
}

func checkApprove(course *models.Course, teacherID, studentID models.ID) error {
	if !course.IsOwnedBy(teacherID) {
		return appErrors.ErrNotOwner
	}
	if course.StateOf(studentID) != models.MembershipPending {
		return appErrors.ErrNotPending
	}
	if course.IsFull() {
		return appErrors.ErrCourseFull
	}
	return nil
}

func checkReject(course *models.Course, teacherID, studentID models.ID) error {
	if !course.IsOwnedBy(teacherID) {
		return appErrors.ErrNotOwner
	}
	if course.StateOf(studentID) != models.MembershipPending {
		return appErrors.ErrNotPending
	}
	return nil
}

func checkUnenroll(course *models.Course, studentID models.ID) error {
	if course.StateOf(studentID) != models.MembershipEnrolled {
		return appErrors.ErrNotEnrolled
	}
	return nil
}

// checkAdminAdd accepts every state. An enrolled student without a stray pending entry
// needs no write.
func checkAdminAdd(course *models.Course, studentID models.ID) error {
	if course.StateOf(studentID) == models.MembershipEnrolled && !models.ContainsID(course.PendingStudents, studentID) {
		return errNothingToDo
	}
	return nil
}

func checkAdminRemove(course *models.Course, studentID models.ID) error {
	if course.StateOf(studentID) == models.MembershipNone {
		return appErrors.ErrNotEnrolled
	}
	return nil
}
