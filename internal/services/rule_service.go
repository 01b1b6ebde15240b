package services

import (
	"errors"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
)

// ruleService handles approval-rule management. Rule fields are validated
// here, at write time, so the matcher can trust every stored rule.
type ruleService struct {
	db *gorm.DB
}

// NewRuleService creates a new RuleServicer.
func NewRuleService(db *gorm.DB) RuleServicer {
	return &ruleService{db: db}
}

func validateRuleInput(input RuleInput) error {
	if input.MaxAmount <= 0 {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "max_amount must be greater than zero")
	}
	if input.MaxPerDay < 1 {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "max_per_day must be at least 1")
	}
	if input.MaxDailyTotal < 0 {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "max_daily_total cannot be negative")
	}
	if input.Category != nil && !input.Category.Valid() {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown category")
	}
	return nil
}

// CreateRule creates a new approval rule for a family.
func (s *ruleService) CreateRule(familyID, createdByID uint, input RuleInput) (*models.ApprovalRule, error) {
	if err := validateRuleInput(input); err != nil {
		return nil, err
	}

	if input.ChildID != nil {
		var count int64
		s.db.Model(&models.Child{}).Where("id = ? AND family_id = ?", *input.ChildID, familyID).Count(&count)
		if count == 0 {
			return nil, apperrors.ErrChildNotFound
		}
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	rule := &models.ApprovalRule{
		FamilyID:      familyID,
		ChildID:       input.ChildID,
		MaxAmount:     input.MaxAmount,
		Category:      input.Category,
		MaxPerDay:     input.MaxPerDay,
		MaxDailyTotal: input.MaxDailyTotal,
		DaysOfWeek:    input.DaysOfWeek,
		IsActive:      isActive,
		CreatedByID:   createdByID,
	}

	if err := s.db.Create(rule).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return rule, nil
}

// GetFamilyRules retrieves a paginated list of a family's rules, in the
// order the matcher evaluates them.
func (s *ruleService) GetFamilyRules(familyID uint, page pagination.PageRequest) (*pagination.PageResponse[models.ApprovalRule], error) {
	page.Defaults()

	base := s.db.Model(&models.ApprovalRule{}).Where("family_id = ?", familyID)

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var rules []models.ApprovalRule
	if err := base.Scopes(pagination.Paginate(page)).
		Order("id").
		Find(&rules).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(rules, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetRuleByID retrieves a rule by ID, scoped to a family.
func (s *ruleService) GetRuleByID(familyID, ruleID uint) (*models.ApprovalRule, error) {
	var rule models.ApprovalRule
	if err := s.db.Where("id = ? AND family_id = ?", ruleID, familyID).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRuleNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &rule, nil
}

// UpdateRule replaces a rule's policy fields. Changing a rule has no effect
// on requests that were already decided.
func (s *ruleService) UpdateRule(familyID, ruleID uint, input RuleInput) (*models.ApprovalRule, error) {
	rule, err := s.GetRuleByID(familyID, ruleID)
	if err != nil {
		return nil, err
	}

	if err := validateRuleInput(input); err != nil {
		return nil, err
	}

	if input.ChildID != nil {
		var count int64
		s.db.Model(&models.Child{}).Where("id = ? AND family_id = ?", *input.ChildID, familyID).Count(&count)
		if count == 0 {
			return nil, apperrors.ErrChildNotFound
		}
	}

	rule.ChildID = input.ChildID
	rule.MaxAmount = input.MaxAmount
	rule.Category = input.Category
	rule.MaxPerDay = input.MaxPerDay
	rule.MaxDailyTotal = input.MaxDailyTotal
	rule.DaysOfWeek = input.DaysOfWeek
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}

	if err := s.db.Save(rule).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return rule, nil
}

// DeleteRule soft-deletes a rule. Already-decided requests keep referencing
// it for the audit trail.
func (s *ruleService) DeleteRule(familyID, ruleID uint) error {
	rule, err := s.GetRuleByID(familyID, ruleID)
	if err != nil {
		return err
	}

	if err := s.db.Delete(rule).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// ActiveRules returns the active rules applicable to the given child and
// category, ordered by id. The matcher stops at the first rule that passes
// all filters, so the scan order is insertion order.
func (s *ruleService) ActiveRules(tx *gorm.DB, familyID, childID uint, category models.RequestCategory) ([]models.ApprovalRule, error) {
	var rules []models.ApprovalRule
	err := tx.
		Where("family_id = ? AND is_active = ?", familyID, true).
		Where("child_id IS NULL OR child_id = ?", childID).
		Where("category IS NULL OR category = ?", category).
		Order("id").
		Find(&rules).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return rules, nil
}
