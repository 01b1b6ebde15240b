package models

import "time"

// NotificationType identifies the event a notification reports.
type NotificationType string

const (
	NotificationRequestCreated      NotificationType = "request_created"
	NotificationRequestApproved     NotificationType = "request_approved"
	NotificationRequestRejected     NotificationType = "request_rejected"
	NotificationRequestAutoApproved NotificationType = "request_auto_approved"
	NotificationRequestExpired      NotificationType = "request_expired"
	NotificationAllowanceGranted    NotificationType = "allowance_granted"
)

// Notification is a best-effort, pull-based inbox row. Delivery is
// decoupled from the state transition that produced it: a failed insert is
// logged and dropped, never rolled back against.
type Notification struct {
	Base
	UserID  uint             `gorm:"not null;index" json:"user_id"`
	Type    NotificationType `gorm:"not null" json:"type"`
	Payload string           `gorm:"type:text" json:"payload"`
	ReadAt  *time.Time       `json:"read_at,omitempty"`
}
