package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
)

// ledgerService is the balance of record for child profiles.
type ledgerService struct {
	db *gorm.DB
}

// NewLedgerService creates a new LedgerServicer.
func NewLedgerService(db *gorm.DB) LedgerServicer {
	return &ledgerService{db: db}
}

// Credit increases a child's balance and records a ledger entry. It runs
// against the caller's transaction.
func (s *ledgerService) Credit(tx *gorm.DB, childID uint, amount int64, memo string, actorID *uint) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "credit amount must be greater than zero")
	}

	res := tx.Model(&models.Child{}).
		Where("id = ?", childID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrChildNotFound
	}

	return s.appendEntry(tx, childID, amount, memo, actorID)
}

// Debit decreases a child's balance and records a ledger entry. The balance
// check and the decrement are a single conditional UPDATE, so two
// concurrent debits can never overdraw the child. It runs against the
// caller's transaction: a debit commits or rolls back together with the
// status transition that caused it.
func (s *ledgerService) Debit(tx *gorm.DB, childID uint, amount int64, memo string, actorID *uint) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "debit amount must be greater than zero")
	}

	res := tx.Model(&models.Child{}).
		Where("id = ? AND balance >= ?", childID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the child does not exist or the balance is short.
		var child models.Child
		if err := tx.First(&child, childID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.ErrChildNotFound
			}
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return nil, apperrors.WithMessage(apperrors.ErrInsufficientBalance,
			fmt.Sprintf("balance is %d, requested %d", child.Balance, amount))
	}

	return s.appendEntry(tx, childID, -amount, memo, actorID)
}

// appendEntry writes the ledger row after a balance update, reading the
// post-update balance inside the same transaction.
func (s *ledgerService) appendEntry(tx *gorm.DB, childID uint, amount int64, memo string, actorID *uint) (*models.LedgerEntry, error) {
	var child models.Child
	if err := tx.First(&child, childID).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	entry := &models.LedgerEntry{
		ChildID:      childID,
		Amount:       amount,
		BalanceAfter: child.Balance,
		Memo:         memo,
		ActorID:      actorID,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return entry, nil
}

// GrantAllowance credits a child in its own transaction. Used by the
// parent-facing allowance endpoint.
func (s *ledgerService) GrantAllowance(childID uint, amount int64, memo string, actorID uint) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.Credit(tx, childID, amount, memo, &actorID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetBalance returns a child's current balance in cents.
func (s *ledgerService) GetBalance(childID uint) (int64, error) {
	var child models.Child
	if err := s.db.First(&child, childID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperrors.ErrChildNotFound
		}
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return child.Balance, nil
}

// GetEntries retrieves a paginated list of a child's ledger entries, newest
// first.
func (s *ledgerService) GetEntries(childID uint, page pagination.PageRequest) (*pagination.PageResponse[models.LedgerEntry], error) {
	page.Defaults()

	base := s.db.Model(&models.LedgerEntry{}).Where("child_id = ?", childID)

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var entries []models.LedgerEntry
	if err := base.Scopes(pagination.Paginate(page)).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(entries, page.Page, page.PageSize, totalItems)
	return &result, nil
}
