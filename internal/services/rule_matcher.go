package services

import (
	"time"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
)

// ruleMatcher implements the auto-approval decision. It only decides; the
// request service performs the debit and the status transition for a
// winning rule.
type ruleMatcher struct {
	ruleService RuleServicer
}

// NewRuleMatcher creates a new RuleMatcher.
func NewRuleMatcher(ruleService RuleServicer) RuleMatcher {
	return &ruleMatcher{ruleService: ruleService}
}

// dailyUsage aggregates a child's auto-approvals for one calendar day.
type dailyUsage struct {
	Count int64
	Total int64
}

// Match returns the first active rule that authorizes the request, or nil
// when no rule does. Evaluation order:
//
//  1. active rules for the family whose child and category scopes cover the
//     request, in id order;
//  2. drop rules whose day-of-week window excludes asOf;
//  3. drop rules whose per-request ceiling is below the amount;
//  4. drop rules whose per-day count or daily-total cap would be exceeded,
//     measured against the child's auto-approvals so far today;
//  5. first survivor wins.
//
// The daily counters are derived by querying the request table rather than
// kept as separate state, so the check needs no extra locking beyond the
// caller's transaction.
func (m *ruleMatcher) Match(tx *gorm.DB, request *models.SpendingRequest, asOf time.Time) (*models.ApprovalRule, error) {
	rules, err := m.ruleService.ActiveRules(tx, request.FamilyID, request.ChildID, request.Category)
	if err != nil {
		return nil, err
	}

	candidates := rules[:0]
	for _, rule := range rules {
		if !rule.AppliesOn(asOf) {
			continue
		}
		if request.Amount > rule.MaxAmount {
			continue
		}
		candidates = append(candidates, rule)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	usage, err := m.usageForDay(tx, request.ChildID, asOf)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		rule := &candidates[i]
		if usage.Count >= int64(rule.MaxPerDay) {
			continue
		}
		if rule.MaxDailyTotal > 0 && usage.Total+request.Amount > rule.MaxDailyTotal {
			continue
		}
		return rule, nil
	}

	return nil, nil
}

// usageForDay counts a child's auto-approved requests, and sums their
// amounts, for the calendar day containing asOf. Auto-approvals are decided
// at creation, so RequestedAt is their decision time.
func (m *ruleMatcher) usageForDay(tx *gorm.DB, childID uint, asOf time.Time) (*dailyUsage, error) {
	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var usage dailyUsage
	err := tx.Model(&models.SpendingRequest{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("child_id = ? AND auto_approved = ? AND status = ?", childID, true, models.RequestStatusApproved).
		Where("requested_at >= ? AND requested_at < ?", dayStart, dayEnd).
		Scan(&usage).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &usage, nil
}
