package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/logger"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
)

// requestService orchestrates the spending request workflow. Every
// state-mutating path claims the request with a conditional UPDATE
// (`WHERE status = 'pending'`) inside a database transaction, so concurrent
// decisions on the same request have exactly one winner; the loser gets
// REQUEST_NOT_PENDING. The ledger debit runs in the same transaction as the
// status change, so money and state commit or roll back together.
// Notifications are dispatched only after the transaction commits.
type requestService struct {
	db           *gorm.DB
	childService ChildServicer
	ledger       LedgerServicer
	matcher      RuleMatcher
	notifier     NotificationServicer
	expiry       time.Duration
}

// NewRequestService creates a new RequestServicer. expiry is how long a
// request stays open for review before it can be expired.
func NewRequestService(
	db *gorm.DB,
	childService ChildServicer,
	ledger LedgerServicer,
	matcher RuleMatcher,
	notifier NotificationServicer,
	expiry time.Duration,
) RequestServicer {
	return &requestService{
		db:           db,
		childService: childService,
		ledger:       ledger,
		matcher:      matcher,
		notifier:     notifier,
		expiry:       expiry,
	}
}

// Create files a new spending request for the child linked to childUserID
// and synchronously runs the auto-approval path. The returned request is
// either pending (parents get a notification) or already approved by a
// rule (the child gets one, parents none).
func (s *requestService) Create(childUserID uint, input CreateRequestInput) (*models.SpendingRequest, error) {
	if input.Amount <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "description is required")
	}
	if !input.Category.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown category")
	}
	if input.Priority == "" {
		input.Priority = models.PriorityNormal
	}
	if !input.Priority.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown priority")
	}

	child, err := s.childService.GetChildByUserID(childUserID)
	if err != nil {
		return nil, err
	}

	// Creation-time balance check. The balance may drop before the decision,
	// which is why Approve re-checks.
	balance, err := s.ledger.GetBalance(child.ID)
	if err != nil {
		return nil, err
	}
	if balance < input.Amount {
		return nil, apperrors.WithMessage(apperrors.ErrInsufficientBalance,
			fmt.Sprintf("balance is %d, requested %d", balance, input.Amount))
	}

	now := time.Now()
	expiresAt := now.Add(s.expiry)
	if input.ExpiresAt != nil {
		expiresAt = *input.ExpiresAt
	}

	request := &models.SpendingRequest{
		ChildID:     child.ID,
		FamilyID:    child.FamilyID,
		Amount:      input.Amount,
		Category:    input.Category,
		Description: input.Description,
		Merchant:    input.Merchant,
		Reason:      input.Reason,
		Priority:    input.Priority,
		Status:      models.RequestStatusPending,
		RequestedAt: now,
		ExpiresAt:   expiresAt,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		rule, err := s.matcher.Match(tx, request, now)
		if err != nil {
			return err
		}
		if rule == nil {
			return nil
		}

		memo := fmt.Sprintf("Spending request #%d auto-approved by rule #%d", request.ID, rule.ID)
		entry, err := s.ledger.Debit(tx, child.ID, request.Amount, memo, nil)
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.Code == apperrors.ErrInsufficientBalance.Code {
				// Balance moved between the pre-check and the debit.
				// Auto-approval is a convenience: leave the request pending
				// and let a parent decide.
				logger.Get().Infow("auto-approval debit failed, falling back to manual review",
					"request_id", request.ID, "rule_id", rule.ID, "child_id", child.ID)
				return nil
			}
			return err
		}

		updates := map[string]any{
			"status":              models.RequestStatusApproved,
			"auto_approved":       true,
			"approved_by_rule_id": rule.ID,
			"ledger_entry_id":     entry.ID,
		}
		if err := tx.Model(request).Updates(updates).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		request.Status = models.RequestStatusApproved
		request.AutoApproved = true
		request.ApprovedByRuleID = &rule.ID
		request.LedgerEntryID = &entry.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"request_id":  request.ID,
		"child_id":    child.ID,
		"child_name":  child.Name,
		"amount":      request.Amount,
		"category":    request.Category,
		"description": request.Description,
		"priority":    request.Priority,
	}
	if request.AutoApproved {
		if child.UserID != nil {
			s.notifier.NotifyUser(*child.UserID, models.NotificationRequestAutoApproved, payload)
		}
	} else {
		s.notifier.NotifyFamilyParents(child.FamilyID, models.NotificationRequestCreated, payload)
	}

	return request, nil
}

// Approve applies a parent's approval: re-checks the balance via the
// guarded debit, moves the money, and finalizes the request. A debit
// failure rolls the claim back and surfaces INSUFFICIENT_BALANCE to the
// parent, with the request left pending so they can retry or reject.
func (s *requestService) Approve(familyID, parentID, requestID uint, notes string) (*models.SpendingRequest, error) {
	request, err := s.loadForDecision(familyID, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SpendingRequest{}).
			Where("id = ? AND status = ?", requestID, models.RequestStatusPending).
			Updates(map[string]any{
				"status":         models.RequestStatusApproved,
				"reviewed_at":    now,
				"reviewed_by_id": parentID,
				"review_notes":   notes,
			})
		if res.Error != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrRequestNotPending
		}

		memo := fmt.Sprintf("Spending request #%d approved by parent #%d", requestID, parentID)
		entry, err := s.ledger.Debit(tx, request.ChildID, request.Amount, memo, &parentID)
		if err != nil {
			// Rolls back the claim; the request stays pending.
			return err
		}

		if err := tx.Model(&models.SpendingRequest{}).
			Where("id = ?", requestID).
			Update("ledger_entry_id", entry.ID).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	request, err = s.getByID(requestID)
	if err != nil {
		return nil, err
	}

	s.notifyChild(&request.Child, models.NotificationRequestApproved, map[string]any{
		"request_id":  request.ID,
		"amount":      request.Amount,
		"description": request.Description,
		"notes":       notes,
	})

	return request, nil
}

// Reject applies a parent's rejection. Review notes are mandatory so the
// child always sees a reason.
func (s *requestService) Reject(familyID, parentID, requestID uint, notes string) (*models.SpendingRequest, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, apperrors.ErrReviewNotesMissing
	}

	request, err := s.loadForDecision(familyID, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res := s.db.Model(&models.SpendingRequest{}).
		Where("id = ? AND status = ?", requestID, models.RequestStatusPending).
		Updates(map[string]any{
			"status":         models.RequestStatusRejected,
			"reviewed_at":    now,
			"reviewed_by_id": parentID,
			"review_notes":   notes,
		})
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrRequestNotPending
	}

	request, err = s.getByID(requestID)
	if err != nil {
		return nil, err
	}

	s.notifyChild(&request.Child, models.NotificationRequestRejected, map[string]any{
		"request_id":  request.ID,
		"amount":      request.Amount,
		"description": request.Description,
		"notes":       notes,
	})

	return request, nil
}

// Cancel withdraws a pending request. Only the requesting child may cancel,
// and only while the request is pending. No ledger movement, no parent
// notification.
func (s *requestService) Cancel(childUserID, requestID uint) (*models.SpendingRequest, error) {
	child, err := s.childService.GetChildByUserID(childUserID)
	if err != nil {
		return nil, err
	}

	request, err := s.getByID(requestID)
	if err != nil {
		return nil, err
	}
	if request.ChildID != child.ID {
		return nil, apperrors.ErrForbidden
	}

	res := s.db.Model(&models.SpendingRequest{}).
		Where("id = ? AND status = ?", requestID, models.RequestStatusPending).
		Update("status", models.RequestStatusCancelled)
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrRequestNotPending
	}

	return s.getByID(requestID)
}

// GetByID retrieves a request by ID, scoped to a family.
func (s *requestService) GetByID(familyID, requestID uint) (*models.SpendingRequest, error) {
	request, err := s.getByID(requestID)
	if err != nil {
		return nil, err
	}
	if request.FamilyID != familyID {
		return nil, apperrors.ErrRequestNotFound
	}
	return request, nil
}

func (s *requestService) getByID(requestID uint) (*models.SpendingRequest, error) {
	var request models.SpendingRequest
	if err := s.db.Preload("Child").First(&request, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRequestNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &request, nil
}

// loadForDecision loads a request for a manual decision, enforcing family
// membership and lazily expiring an overdue pending request.
func (s *requestService) loadForDecision(familyID, requestID uint) (*models.SpendingRequest, error) {
	request, err := s.getByID(requestID)
	if err != nil {
		return nil, err
	}
	if request.FamilyID != familyID {
		return nil, apperrors.ErrNotFamilyMember
	}

	if request.Status == models.RequestStatusPending && time.Now().After(request.ExpiresAt) {
		if expired := s.expireOne(request); expired {
			return nil, apperrors.WithMessage(apperrors.ErrRequestNotPending, "Spending request has expired")
		}
	}
	return request, nil
}

// GetPendingForFamily lists a family's pending requests, oldest first.
// Overdue-but-unswept requests are excluded, matching what the sweep will
// decide about them.
func (s *requestService) GetPendingForFamily(familyID uint, page pagination.PageRequest) (*pagination.PageResponse[models.SpendingRequest], error) {
	page.Defaults()

	base := s.db.Model(&models.SpendingRequest{}).
		Where("family_id = ? AND status = ? AND expires_at > ?", familyID, models.RequestStatusPending, time.Now())

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var requests []models.SpendingRequest
	if err := base.Preload("Child").Scopes(pagination.Paginate(page)).
		Order("requested_at").
		Find(&requests).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(requests, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetForChild lists a child's requests, optionally filtered by status,
// newest first.
func (s *requestService) GetForChild(familyID, childID uint, status *models.RequestStatus, page pagination.PageRequest) (*pagination.PageResponse[models.SpendingRequest], error) {
	page.Defaults()

	base := s.db.Model(&models.SpendingRequest{}).
		Where("family_id = ? AND child_id = ?", familyID, childID)
	if status != nil {
		base = base.Where("status = ?", *status)
	}

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var requests []models.SpendingRequest
	if err := base.Scopes(pagination.Paginate(page)).
		Order("requested_at DESC").
		Find(&requests).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(requests, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// Statistics aggregates a child's requests since the given timestamp.
func (s *requestService) Statistics(familyID, childID uint, since time.Time) (*RequestStatistics, error) {
	var requests []models.SpendingRequest
	if err := s.db.
		Where("family_id = ? AND child_id = ? AND requested_at >= ?", familyID, childID, since).
		Find(&requests).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	stats := &RequestStatistics{}
	var decisionTotal time.Duration
	var decisionCount int64

	for i := range requests {
		r := &requests[i]
		stats.TotalCount++
		switch r.Status {
		case models.RequestStatusPending:
			stats.PendingCount++
		case models.RequestStatusApproved:
			stats.ApprovedCount++
			stats.ApprovedTotal += r.Amount
		case models.RequestStatusRejected:
			stats.RejectedCount++
			stats.RejectedTotal += r.Amount
		case models.RequestStatusCancelled:
			stats.CancelledCount++
		case models.RequestStatusExpired:
			stats.ExpiredCount++
		}
		if r.AutoApproved {
			stats.AutoApprovedCount++
		}
		if r.ReviewedAt != nil {
			decisionTotal += r.ReviewedAt.Sub(r.RequestedAt)
			decisionCount++
		}
	}

	if stats.TotalCount > 0 {
		stats.ApprovalRate = float64(stats.ApprovedCount) / float64(stats.TotalCount)
	}
	if decisionCount > 0 {
		stats.AvgDecisionSeconds = (decisionTotal / time.Duration(decisionCount)).Seconds()
	}

	return stats, nil
}

// ExpireOverdue transitions every overdue pending request to expired and
// returns how many were expired. Driven by a periodic sweep; each
// transition is individually guarded so it cannot race a concurrent
// decision.
func (s *requestService) ExpireOverdue(now time.Time) (int, error) {
	var overdue []models.SpendingRequest
	if err := s.db.Preload("Child").
		Where("status = ? AND expires_at < ?", models.RequestStatusPending, now).
		Find(&overdue).Error; err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	expired := 0
	for i := range overdue {
		request := &overdue[i]
		if !s.expireOne(request) {
			continue
		}
		expired++
		s.notifyChild(&request.Child, models.NotificationRequestExpired, map[string]any{
			"request_id":  request.ID,
			"amount":      request.Amount,
			"description": request.Description,
		})
	}

	return expired, nil
}

// expireOne attempts the pending->expired transition for one request.
// Returns false when a concurrent decision won.
func (s *requestService) expireOne(request *models.SpendingRequest) bool {
	res := s.db.Model(&models.SpendingRequest{}).
		Where("id = ? AND status = ?", request.ID, models.RequestStatusPending).
		Update("status", models.RequestStatusExpired)
	if res.Error != nil {
		logger.Get().Errorw("failed to expire spending request",
			"request_id", request.ID, "error", res.Error)
		return false
	}
	return res.RowsAffected > 0
}

// notifyChild sends a notification to the child's login account, if the
// profile has one.
func (s *requestService) notifyChild(child *models.Child, eventType models.NotificationType, payload map[string]any) {
	if child == nil || child.UserID == nil {
		return
	}
	s.notifier.NotifyUser(*child.UserID, eventType, payload)
}
