package models

import "time"

// Notification is a message addressed globally, to a course, or to explicit users.
type Notification struct {
	ID         ID        `bson:"_id" json:"id"`
	Title      string    `bson:"title" json:"title"`
	Content    string    `bson:"content" json:"content"`
	Global     bool      `bson:"global" json:"global"`
	CourseID   *ID       `bson:"courseId,omitempty" json:"course_id,omitempty"`
	Recipients []ID      `bson:"recipients" json:"recipients,omitempty"`
	CreatedBy  ID        `bson:"createdBy" json:"created_by"`
	ReadBy     []ID      `bson:"readBy" json:"-"`
	CreatedAt  time.Time `bson:"createdAt" json:"created_at"`
}

// ReadByUser reports whether the user acknowledged the notification.
func (n *Notification) ReadByUser(userID ID) bool {
	return ContainsID(n.ReadBy, userID)
}

// NotificationView is a notification as returned to one reader.
type NotificationView struct {
	*Notification
	Read bool `json:"read"`
}

// NotificationAudience describes what a user can see: everything global, anything
// addressed to them and anything scoped to the listed courses.
type NotificationAudience struct {
	UserID    ID
	CourseIDs []ID
}

// NotificationFilter pages a user's notification feed.
type NotificationFilter struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}

// CreateNotificationRequest is the payload for publishing a notification.
type CreateNotificationRequest struct {
	Title      string   `json:"title" validate:"required,min=1,max=200"`
	Content    string   `json:"content" validate:"required,max=5000"`
	Global     bool     `json:"global"`
	CourseID   string   `json:"course_id" validate:"omitempty,len=24,hexadecimal"`
	Recipients []string `json:"recipients" validate:"omitempty,max=500,dive,len=24,hexadecimal"`
}
