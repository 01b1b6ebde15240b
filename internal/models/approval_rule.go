package models

import (
	"time"

	"gorm.io/gorm"
)

// ApprovalRule is a parent-authored policy that lets qualifying spending
// requests skip manual review. All amounts are in cents. A nil ChildID
// applies the rule to every child in the family; a nil Category to every
// category. MaxDailyTotal of zero means no daily sum cap.
//
// Rules are evaluated in insertion (id) order; the first rule that passes
// every filter wins. Editing or deleting a rule has no effect on requests
// that were already decided.
type ApprovalRule struct {
	Base
	FamilyID      uint             `gorm:"not null;index" json:"family_id"`
	ChildID       *uint            `gorm:"index" json:"child_id,omitempty"`
	MaxAmount     int64            `gorm:"type:bigint;not null" json:"max_amount"`
	Category      *RequestCategory `json:"category,omitempty"`
	MaxPerDay     int              `gorm:"not null" json:"max_per_day"`
	MaxDailyTotal int64            `gorm:"type:bigint;not null;default:0" json:"max_daily_total"`
	DaysOfWeek    WeekdaySet       `gorm:"not null;default:0" json:"days_of_week"`
	IsActive      bool             `gorm:"not null;default:true" json:"is_active"`
	CreatedByID   uint             `gorm:"not null" json:"created_by_id"`
	DeletedAt     gorm.DeletedAt   `gorm:"index" json:"-"`
}

// AppliesOn reports whether the rule's day-of-week window covers the given
// time. An empty set covers every day.
func (r *ApprovalRule) AppliesOn(t time.Time) bool {
	return r.DaysOfWeek.IsEmpty() || r.DaysOfWeek.Has(t.Weekday())
}
