package models

// AuditLog records who did what to which resource. Spending decisions --
// manual and rule-driven -- are always audited so auto-approvals stay
// inspectable after the fact.
type AuditLog struct {
	Base
	UserID       *uint  `gorm:"index" json:"user_id,omitempty"`
	Action       string `gorm:"not null" json:"action"`
	ResourceType string `gorm:"not null" json:"resource_type"`
	ResourceID   uint   `json:"resource_id"`
	IPAddress    string `json:"ip_address"`
	Changes      string `gorm:"type:text" json:"changes"`
}
