package models

// Child is a child's profile within a family. Balance is in cents and is
// the balance of record: it only moves through the ledger service, which
// writes a LedgerEntry for every change.
type Child struct {
	Base
	FamilyID uint   `gorm:"not null;index" json:"family_id"`
	UserID   *uint  `gorm:"uniqueIndex" json:"user_id,omitempty"`
	Name     string `gorm:"not null" json:"name"`
	Balance  int64  `gorm:"type:bigint;not null;default:0" json:"balance"`
}
