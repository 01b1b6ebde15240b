package models

// Family groups parents and children. Spending requests and approval rules
// are always scoped to a family.
type Family struct {
	Base
	Name     string  `gorm:"not null" json:"name"`
	Members  []User  `gorm:"foreignKey:FamilyID" json:"members,omitempty"`
	Children []Child `gorm:"foreignKey:FamilyID" json:"children,omitempty"`
}
