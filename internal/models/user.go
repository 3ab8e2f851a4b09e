package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// Valid reports whether the role is one the system knows about.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// User represents an application user stored in the users collection.
type User struct {
	ID           ID         `bson:"_id" json:"id"`
	Name         string     `bson:"name" json:"name"`
	Email        string     `bson:"email" json:"email"`
	PasswordHash string     `bson:"passwordHash" json:"-"`
	Role         UserRole   `bson:"role" json:"role"`
	Active       bool       `bson:"active" json:"active"`
	LastLogin    *time.Time `bson:"lastLogin,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updatedAt" json:"updated_at"`
}

// UnmarshalBSON treats a document without an active field as an active account.
// Accounts written before deactivation existed never carry the field.
func (u *User) UnmarshalBSON(data []byte) error {
	type stored User
	decoded := stored{Active: true}
	if err := bson.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*u = User(decoded)
	return nil
}

// Summary returns the public projection used inside rosters and request lists.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// UserSummary is the short form of a user embedded in other responses.
type UserSummary struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

// RegisterRequest is the self-service sign-up payload.
type RegisterRequest struct {
	Name     string   `json:"name" validate:"required,min=2,max=120"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=6"`
	Role     UserRole `json:"role" validate:"omitempty,oneof=student teacher"`
}

// CreateUserRequest is used by operators to create accounts of any role.
type CreateUserRequest struct {
	Name     string   `json:"name" validate:"required,min=2,max=120"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=6"`
	Role     UserRole `json:"role" validate:"required,oneof=admin teacher student"`
}

// UpdateProfileRequest lets a user change their own display data.
type UpdateProfileRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=120"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// UpdateRoleRequest is the admin payload for role changes.
type UpdateRoleRequest struct {
	Role UserRole `json:"role" validate:"required,oneof=admin teacher student"`
}

// SetActiveRequest toggles an account.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}
