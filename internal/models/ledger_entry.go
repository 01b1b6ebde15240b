package models

// LedgerEntry records a single balance movement for a child. Amount is in
// cents and signed: credits positive, debits negative. Entries are
// append-only.
type LedgerEntry struct {
	Base
	ChildID      uint   `gorm:"not null;index" json:"child_id"`
	Amount       int64  `gorm:"type:bigint;not null" json:"amount"`
	BalanceAfter int64  `gorm:"type:bigint;not null" json:"balance_after"`
	Memo         string `json:"memo"`
	ActorID      *uint  `json:"actor_id,omitempty"`
}
