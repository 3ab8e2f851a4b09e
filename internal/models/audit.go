package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionRegister         = "REGISTER"
	AuditActionUserUpdate       = "USER_UPDATE"
	AuditActionUserDelete       = "USER_DELETE"
	AuditActionPasswordChange   = "PASSWORD_CHANGE"
	AuditActionCourseCreate     = "COURSE_CREATE"
	AuditActionCourseUpdate     = "COURSE_UPDATE"
	AuditActionCourseDelete     = "COURSE_DELETE"
	AuditActionEnrollment       = "ENROLLMENT"
	AuditActionAssignmentCreate = "ASSIGNMENT_CREATE"
	AuditActionAssignmentDelete = "ASSIGNMENT_DELETE"
	AuditActionSubmit           = "SUBMIT"
	AuditActionGrade            = "GRADE"
	AuditActionExport           = "EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"-"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`

	// Details exposes NewValues as raw JSON in API responses.
	Details json.RawMessage `db:"-" json:"details,omitempty"`
}

// AuditEntry is what services hand to the audit sink.
type AuditEntry struct {
	ActorID    ID
	Action     string
	Resource   string
	ResourceID ID
	Details    map[string]interface{}
}
