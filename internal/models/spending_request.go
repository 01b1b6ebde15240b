package models

import "time"

// RequestStatus represents the lifecycle state of a spending request.
// Pending is the only non-terminal state; every transition out of it is
// final and the record becomes immutable.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusExpired   RequestStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

// RequestCategory classifies what the child wants to spend on. Approval
// rules can be scoped to a single category.
type RequestCategory string

const (
	CategorySnacks        RequestCategory = "snacks"
	CategoryToys          RequestCategory = "toys"
	CategoryGames         RequestCategory = "games"
	CategoryBooks         RequestCategory = "books"
	CategoryClothes       RequestCategory = "clothes"
	CategoryEntertainment RequestCategory = "entertainment"
	CategoryOther         RequestCategory = "other"
)

// Valid reports whether the category is one of the known values.
func (c RequestCategory) Valid() bool {
	switch c {
	case CategorySnacks, CategoryToys, CategoryGames, CategoryBooks,
		CategoryClothes, CategoryEntertainment, CategoryOther:
		return true
	}
	return false
}

// RequestPriority signals urgency to reviewing parents. It has no effect
// on rule matching.
type RequestPriority string

const (
	PriorityNormal RequestPriority = "normal"
	PriorityUrgent RequestPriority = "urgent"
)

// Valid reports whether the priority is one of the known values.
func (p RequestPriority) Valid() bool {
	return p == PriorityNormal || p == PriorityUrgent
}

// SpendingRequest is a child's ask to spend money, pending a parent's (or
// a rule's) decision. Amount is in cents.
//
// Field invariants, maintained by the request service:
//   - LedgerEntryID is non-nil iff Status is approved.
//   - ReviewedAt/ReviewedByID are non-nil iff Status is approved or rejected
//     and the decision was made by a parent (AutoApproved false).
//   - AutoApproved is true iff a rule approved the request; those rows
//     carry ApprovedByRuleID instead of reviewer fields.
type SpendingRequest struct {
	Base
	ChildID     uint            `gorm:"not null;index" json:"child_id"`
	FamilyID    uint            `gorm:"not null;index" json:"family_id"`
	Amount      int64           `gorm:"type:bigint;not null" json:"amount"`
	Category    RequestCategory `gorm:"not null" json:"category"`
	Description string          `gorm:"size:500;not null" json:"description"`
	Merchant    string          `gorm:"size:200" json:"merchant,omitempty"`
	Reason      string          `gorm:"size:500" json:"reason,omitempty"`
	Priority    RequestPriority `gorm:"not null;default:normal" json:"priority"`
	Status      RequestStatus   `gorm:"not null;default:pending;index" json:"status"`

	RequestedAt  time.Time  `gorm:"not null" json:"requested_at"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewedByID *uint      `json:"reviewed_by_id,omitempty"`
	ReviewNotes  string     `gorm:"size:500" json:"review_notes,omitempty"`

	LedgerEntryID    *uint `json:"ledger_entry_id,omitempty"`
	AutoApproved     bool  `gorm:"not null;default:false" json:"auto_approved"`
	ApprovedByRuleID *uint `json:"approved_by_rule_id,omitempty"`

	Child Child `gorm:"foreignKey:ChildID" json:"child,omitempty"`
}
