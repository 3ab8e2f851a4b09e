package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MembershipState is the position of a student relative to one course.
type MembershipState string

const (
	MembershipNone     MembershipState = "NONE"
	MembershipPending  MembershipState = "PENDING"
	MembershipEnrolled MembershipState = "ENROLLED"
)

// EnrollmentStatusActive is the status written for every approved enrollment.
const EnrollmentStatusActive = "active"

// CapacityPolicy selects which membership lists count against MaxStudents.
type CapacityPolicy string

const (
	// CapacityEnrolled counts only enrolled students. Pending requests may exceed
	// the limit but approval never will.
	CapacityEnrolled CapacityPolicy = "enrolled"
	// CapacityEnrolledAndPending counts enrolled and pending students together.
	CapacityEnrolledAndPending CapacityPolicy = "enrolled_and_pending"
)

// EnrollmentRecord is one entry of a course roster.
type EnrollmentRecord struct {
	StudentID  ID        `bson:"studentId" json:"student_id"`
	EnrolledAt time.Time `bson:"enrolledAt" json:"enrolled_at"`
	Status     string    `bson:"status" json:"status"`

	// Legacy marks entries stored as a bare identifier instead of a sub-document.
	Legacy bool `bson:"-" json:"-"`
}

// Roster is the enrolled-students list. It decodes both sub-document entries and
// bare identifiers left by older writers; it always encodes sub-documents.
type Roster []EnrollmentRecord

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (r *Roster) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*r = Roster{}
		return nil
	case bsontype.Array:
	default:
		return fmt.Errorf("roster: unexpected bson type %s", t)
	}

	values, err := bson.Raw(data).Values()
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}

	out := make(Roster, 0, len(values))
	for i, v := range values {
		switch v.Type {
		case bsontype.EmbeddedDocument:
			var rec EnrollmentRecord
			if err := v.Unmarshal(&rec); err != nil {
				return fmt.Errorf("roster[%d]: %w", i, err)
			}
			if rec.Status == "" {
				rec.Status = EnrollmentStatusActive
			}
			out = append(out, rec)
		case bsontype.ObjectID, bsontype.String:
			var id ID
			if err := id.UnmarshalBSONValue(v.Type, v.Value); err != nil {
				return fmt.Errorf("roster[%d]: %w", i, err)
			}
			out = append(out, EnrollmentRecord{StudentID: id, Status: EnrollmentStatusActive, Legacy: true})
		default:
			return fmt.Errorf("roster[%d]: unexpected bson type %s", i, v.Type)
		}
	}
	*r = out
	return nil
}

// Find returns the roster entry for the student, if any.
func (r Roster) Find(studentID ID) (EnrollmentRecord, bool) {
	for _, rec := range r {
		if rec.StudentID.Equal(studentID) {
			return rec, true
		}
	}
	return EnrollmentRecord{}, false
}

// StudentIDs lists enrolled students in roster order.
func (r Roster) StudentIDs() []ID {
	ids := make([]ID, 0, len(r))
	for _, rec := range r {
		ids = append(ids, rec.StudentID)
	}
	return ids
}

// HasLegacyEntries reports whether a backfill would rewrite this roster.
func (r Roster) HasLegacyEntries() bool {
	for _, rec := range r {
		if rec.Legacy {
			return true
		}
	}
	return false
}

// Course is a class offered by one teacher.
type Course struct {
	ID              ID         `bson:"_id" json:"id"`
	Title           string     `bson:"title" json:"title"`
	Slug            string     `bson:"slug" json:"slug"`
	Description     string     `bson:"description" json:"description"`
	TeacherID       ID         `bson:"teacherId" json:"teacher_id"`
	StartDate       *time.Time `bson:"startDate,omitempty" json:"start_date,omitempty"`
	EndDate         *time.Time `bson:"endDate,omitempty" json:"end_date,omitempty"`
	MeetingLink     string     `bson:"meetingLink,omitempty" json:"meeting_link,omitempty"`
	Schedule        string     `bson:"schedule,omitempty" json:"schedule,omitempty"`
	MaxStudents     int        `bson:"maxStudents" json:"max_students"`
	Students        Roster     `bson:"students" json:"students"`
	PendingStudents []ID       `bson:"pendingStudents" json:"pending_students"`
	CreatedAt       time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updatedAt" json:"updated_at"`
}

// StateOf computes the membership state of a student. Enrolled wins when a
// student is (inconsistently) present in both lists.
func (c *Course) StateOf(studentID ID) MembershipState {
	if _, ok := c.Students.Find(studentID); ok {
		return MembershipEnrolled
	}
	if ContainsID(c.PendingStudents, studentID) {
		return MembershipPending
	}
	return MembershipNone
}

func (c *Course) IsOwnedBy(userID ID) bool {
	return !userID.IsZero() && c.TeacherID.Equal(userID)
}

// Unlimited reports whether the course has no capacity limit.
func (c *Course) Unlimited() bool {
	return c.MaxStudents <= 0
}

// IsFull reports whether no more students may be enrolled.
func (c *Course) IsFull() bool {
	return !c.Unlimited() && len(c.Students) >= c.MaxStudents
}

// AcceptsRequests reports whether a new enrollment request fits under the policy.
func (c *Course) AcceptsRequests(policy CapacityPolicy) bool {
	if c.Unlimited() {
		return true
	}
	occupied := len(c.Students)
	if policy == CapacityEnrolledAndPending {
		occupied += len(c.PendingStudents)
	}
	return occupied < c.MaxStudents
}

// NeedsBackfill reports whether the stored form deviates from the canonical schema.
func (c *Course) NeedsBackfill() bool {
	if c.Students.HasLegacyEntries() {
		return true
	}
	for _, id := range c.PendingStudents {
		if _, ok := c.Students.Find(id); ok {
			return true
		}
	}
	return false
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	TeacherID *ID
	Search    string
	Page      int
	PageSize  int
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title       string     `json:"title" validate:"required,min=3,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	MeetingLink string     `json:"meeting_link" validate:"omitempty,url"`
	Schedule    string     `json:"schedule" validate:"max=500"`
	MaxStudents int        `json:"max_students" validate:"gte=0"`
	// TeacherID lets an admin create a course on behalf of a teacher.
	TeacherID string `json:"teacher_id" validate:"omitempty,len=24,hexadecimal"`
}

// UpdateCourseRequest is the payload for updating a course. Nil fields are kept.
type UpdateCourseRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	MeetingLink *string    `json:"meeting_link" validate:"omitempty,url"`
	Schedule    *string    `json:"schedule" validate:"omitempty,max=500"`
	MaxStudents *int       `json:"max_students" validate:"omitempty,gte=0"`
}

// StudentRequest carries the student a teacher or admin acts on.
type StudentRequest struct {
	StudentID string `json:"studentId" validate:"required"`
}

// EnrollmentStatus reports a student's membership in one course.
type EnrollmentStatus struct {
	CourseID  ID              `json:"course_id"`
	StudentID ID              `json:"student_id"`
	State     MembershipState `json:"state"`
}

// RosterEntry is an enrolled student with display data.
type RosterEntry struct {
	Student    UserSummary `json:"student"`
	EnrolledAt time.Time   `json:"enrolled_at"`
	Status     string      `json:"status"`
}

// StudentCourse is a course as seen by one student.
type StudentCourse struct {
	Course *Course         `json:"course"`
	State  MembershipState `json:"state"`
}
