package models

import "time"

// Submission states.
const (
	SubmissionStatusSubmitted = "submitted"
	SubmissionStatusGraded    = "graded"
)

// Submission is one student's attempt at an assignment.
type Submission struct {
	StudentID   ID         `bson:"studentId" json:"student_id"`
	Content     string     `bson:"content" json:"content"`
	FileURLs    []string   `bson:"fileUrls" json:"file_urls"`
	Status      string     `bson:"status" json:"status"`
	Grade       *float64   `bson:"grade,omitempty" json:"grade,omitempty"`
	Feedback    string     `bson:"feedback,omitempty" json:"feedback,omitempty"`
	SubmittedAt time.Time  `bson:"submittedAt" json:"submitted_at"`
	GradedAt    *time.Time `bson:"gradedAt,omitempty" json:"graded_at,omitempty"`
}

// Assignment is a task scoped to one course.
type Assignment struct {
	ID          ID           `bson:"_id" json:"id"`
	CourseID    ID           `bson:"courseId" json:"course_id"`
	TeacherID   ID           `bson:"teacherId" json:"teacher_id"`
	Title       string       `bson:"title" json:"title"`
	Description string       `bson:"description" json:"description"`
	DueDate     time.Time    `bson:"dueDate" json:"due_date"`
	MaxScore    float64      `bson:"maxScore" json:"max_score"`
	Submissions []Submission `bson:"submissions" json:"submissions,omitempty"`
	CreatedAt   time.Time    `bson:"createdAt" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updatedAt" json:"updated_at"`
}

// SubmissionOf returns the student's submission, if any.
func (a *Assignment) SubmissionOf(studentID ID) (*Submission, bool) {
	for i := range a.Submissions {
		if a.Submissions[i].StudentID.Equal(studentID) {
			return &a.Submissions[i], true
		}
	}
	return nil, false
}

// DeadlinePassed reports whether submissions are closed at the given instant.
func (a *Assignment) DeadlinePassed(at time.Time) bool {
	return at.After(a.DueDate)
}

// CreateAssignmentRequest is the payload for creating an assignment.
type CreateAssignmentRequest struct {
	CourseID    string    `json:"course_id" validate:"required"`
	Title       string    `json:"title" validate:"required,min=3,max=200"`
	Description string    `json:"description" validate:"max=10000"`
	DueDate     time.Time `json:"due_date" validate:"required"`
	MaxScore    float64   `json:"max_score" validate:"required,gt=0,lte=1000"`
}

// UpdateAssignmentRequest is the payload for updating an assignment.
type UpdateAssignmentRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=10000"`
	DueDate     *time.Time `json:"due_date"`
	MaxScore    *float64   `json:"max_score" validate:"omitempty,gt=0,lte=1000"`
}

// SubmitAssignmentRequest is a student's submission payload.
type SubmitAssignmentRequest struct {
	Content  string   `json:"content" validate:"required_without=FileURLs,max=20000"`
	FileURLs []string `json:"file_urls" validate:"omitempty,max=10,dive,url"`
}

// GradeSubmissionRequest is the teacher's grading payload.
type GradeSubmissionRequest struct {
	StudentID string   `json:"studentId" validate:"required"`
	Grade     *float64 `json:"grade" validate:"required,gte=0"`
	Feedback  string   `json:"feedback" validate:"max=5000"`
}
