package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
)

// childService handles child-profile business logic.
type childService struct {
	db          *gorm.DB
	userService UserServicer
	ledger      LedgerServicer
}

// NewChildService creates a new ChildServicer.
func NewChildService(db *gorm.DB, userService UserServicer, ledger LedgerServicer) ChildServicer {
	return &childService{db: db, userService: userService, ledger: ledger}
}

// CreateChild creates a child profile, optionally with a login account
// (when email is given) and an opening balance, all in one transaction.
func (s *childService) CreateChild(familyID, parentID uint, name string, initialBalance int64, email, password string) (*models.Child, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "child name is required")
	}
	if initialBalance < 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "initial balance cannot be negative")
	}

	child := &models.Child{
		FamilyID: familyID,
		Name:     name,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if email != "" {
			user, err := s.userService.CreateChildUser(tx, familyID, email, password, name, "")
			if err != nil {
				return err
			}
			child.UserID = &user.ID
		}

		if err := tx.Create(child).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		if initialBalance > 0 {
			if _, err := s.ledger.Credit(tx, child.ID, initialBalance, "Opening balance", &parentID); err != nil {
				return err
			}
			child.Balance = initialBalance
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return child, nil
}

// GetFamilyChildren retrieves a paginated list of a family's children.
func (s *childService) GetFamilyChildren(familyID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Child], error) {
	page.Defaults()

	base := s.db.Model(&models.Child{}).Where("family_id = ?", familyID)

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var children []models.Child
	if err := base.Scopes(pagination.Paginate(page)).
		Order("name").
		Find(&children).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(children, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetChildByID retrieves a child by ID, scoped to a family.
func (s *childService) GetChildByID(familyID, childID uint) (*models.Child, error) {
	var child models.Child
	if err := s.db.Where("id = ? AND family_id = ?", childID, familyID).First(&child).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChildNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &child, nil
}

// GetChildByUserID retrieves the child profile linked to a login account.
func (s *childService) GetChildByUserID(userID uint) (*models.Child, error) {
	var child models.Child
	if err := s.db.Where("user_id = ?", userID).First(&child).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChildNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &child, nil
}
