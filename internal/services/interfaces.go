package services

import (
	"time"

	"gorm.io/gorm"

	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	RegisterParent(email, password, firstName, lastName, familyName string) (*models.User, error)
	CreateChildUser(tx *gorm.DB, familyID uint, email, password, firstName, lastName string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id uint) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(email, password string) (*models.User, error)
	StoreRefreshTokenHash(userID uint, tokenHash string) error
	GetRefreshTokenHash(userID uint) (string, error)
}

// ChildServicer defines the contract for child-profile business logic.
type ChildServicer interface {
	CreateChild(familyID, parentID uint, name string, initialBalance int64, email, password string) (*models.Child, error)
	GetFamilyChildren(familyID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Child], error)
	GetChildByID(familyID, childID uint) (*models.Child, error)
	GetChildByUserID(userID uint) (*models.Child, error)
}

// LedgerServicer is the balance of record: the only component allowed to
// move money. Credit and Debit run against the caller's transaction so a
// balance movement commits or rolls back together with whatever state
// change caused it.
type LedgerServicer interface {
	Credit(tx *gorm.DB, childID uint, amount int64, memo string, actorID *uint) (*models.LedgerEntry, error)
	Debit(tx *gorm.DB, childID uint, amount int64, memo string, actorID *uint) (*models.LedgerEntry, error)
	GrantAllowance(childID uint, amount int64, memo string, actorID uint) (*models.LedgerEntry, error)
	GetBalance(childID uint) (int64, error)
	GetEntries(childID uint, page pagination.PageRequest) (*pagination.PageResponse[models.LedgerEntry], error)
}

// RuleInput holds the caller-supplied fields for creating or updating an
// approval rule. Amounts are in cents.
type RuleInput struct {
	ChildID       *uint
	MaxAmount     int64
	Category      *models.RequestCategory
	MaxPerDay     int
	MaxDailyTotal int64
	DaysOfWeek    models.WeekdaySet
	IsActive      *bool
}

// RuleServicer defines the contract for approval-rule management and lookup.
type RuleServicer interface {
	CreateRule(familyID, createdByID uint, input RuleInput) (*models.ApprovalRule, error)
	GetFamilyRules(familyID uint, page pagination.PageRequest) (*pagination.PageResponse[models.ApprovalRule], error)
	GetRuleByID(familyID, ruleID uint) (*models.ApprovalRule, error)
	UpdateRule(familyID, ruleID uint, input RuleInput) (*models.ApprovalRule, error)
	DeleteRule(familyID, ruleID uint) error
	// ActiveRules returns the active rules applicable to the given child and
	// category, in insertion (id) order. The matcher takes the first rule
	// that passes all of its filters, so this order is load-bearing.
	ActiveRules(tx *gorm.DB, familyID, childID uint, category models.RequestCategory) ([]models.ApprovalRule, error)
}

// RuleMatcher decides whether an active rule authorizes immediate approval
// of a freshly created spending request. Match is deterministic and free of
// side effects: it returns the winning rule, or nil when no rule matches
// (which is a normal outcome, not an error).
type RuleMatcher interface {
	Match(tx *gorm.DB, request *models.SpendingRequest, asOf time.Time) (*models.ApprovalRule, error)
}

// CreateRequestInput holds the caller-supplied fields for a new spending
// request. Amount is in cents.
type CreateRequestInput struct {
	Amount      int64
	Category    models.RequestCategory
	Description string
	Merchant    string
	Reason      string
	Priority    models.RequestPriority
	ExpiresAt   *time.Time
}

// RequestStatistics aggregates a child's request history since a timestamp.
type RequestStatistics struct {
	TotalCount         int64   `json:"total_count"`
	PendingCount       int64   `json:"pending_count"`
	ApprovedCount      int64   `json:"approved_count"`
	RejectedCount      int64   `json:"rejected_count"`
	CancelledCount     int64   `json:"cancelled_count"`
	ExpiredCount       int64   `json:"expired_count"`
	ApprovedTotal      int64   `json:"approved_total"`
	RejectedTotal      int64   `json:"rejected_total"`
	ApprovalRate       float64 `json:"approval_rate"`
	AutoApprovedCount  int64   `json:"auto_approved_count"`
	AvgDecisionSeconds float64 `json:"avg_decision_seconds"`
}

// RequestServicer orchestrates the spending request workflow: creation with
// synchronous auto-approval, manual decisions, cancellation, expiry, and
// read queries.
type RequestServicer interface {
	Create(childUserID uint, input CreateRequestInput) (*models.SpendingRequest, error)
	Approve(familyID, parentID, requestID uint, notes string) (*models.SpendingRequest, error)
	Reject(familyID, parentID, requestID uint, notes string) (*models.SpendingRequest, error)
	Cancel(childUserID, requestID uint) (*models.SpendingRequest, error)
	GetByID(familyID, requestID uint) (*models.SpendingRequest, error)
	GetPendingForFamily(familyID uint, page pagination.PageRequest) (*pagination.PageResponse[models.SpendingRequest], error)
	GetForChild(familyID, childID uint, status *models.RequestStatus, page pagination.PageRequest) (*pagination.PageResponse[models.SpendingRequest], error)
	Statistics(familyID, childID uint, since time.Time) (*RequestStatistics, error)
	ExpireOverdue(now time.Time) (int, error)
}

// NotificationServicer defines the contract for the best-effort notification
// inbox. The Notify methods never return errors: delivery failures are
// logged and dropped so they can never affect the transition that produced
// them.
type NotificationServicer interface {
	NotifyUser(userID uint, eventType models.NotificationType, payload map[string]any)
	NotifyFamilyParents(familyID uint, eventType models.NotificationType, payload map[string]any)
	GetUserNotifications(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Notification], error)
	MarkRead(userID, notificationID uint) error
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(userID *uint, action, resourceType string, resourceID uint, ipAddress string, changes map[string]any)
}
