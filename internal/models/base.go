package models

import "time"

// Base contains common columns for all tables. Rows that take part in the
// audit trail (requests, ledger entries) are never deleted, so there is no
// soft-delete column here; models that support deletion add their own.
type Base struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
