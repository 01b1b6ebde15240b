package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"pocketwise/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// CreateTestFamily creates a family with a unique name.
func CreateTestFamily(t *testing.T, db *gorm.DB) *models.Family {
	t.Helper()

	family := &models.Family{
		Name: fmt.Sprintf("Test Family %d", nextID()),
	}
	if err := db.Create(family).Error; err != nil {
		t.Fatalf("failed to create test family: %v", err)
	}
	return family
}

// CreateTestParent creates a parent user in the given family with a hashed
// password and unique email.
func CreateTestParent(t *testing.T, db *gorm.DB, familyID uint) *models.User {
	t.Helper()
	return createTestUser(t, db, familyID, models.RoleParent)
}

// CreateTestChildUser creates a child-role user in the given family. The
// returned user is not yet linked to a Child profile; pass its ID to
// CreateTestChildWithUser for that.
func CreateTestChildUser(t *testing.T, db *gorm.DB, familyID uint) *models.User {
	t.Helper()
	return createTestUser(t, db, familyID, models.RoleChild)
}

func createTestUser(t *testing.T, db *gorm.DB, familyID uint, role models.UserRole) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:    fmt.Sprintf("%s%d@test.com", role, nextID()),
		Password: string(hash),
		Role:     role,
		FamilyID: familyID,
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestChild creates a child profile without a login account.
func CreateTestChild(t *testing.T, db *gorm.DB, familyID uint, balance int64) *models.Child {
	t.Helper()

	child := &models.Child{
		FamilyID: familyID,
		Name:     fmt.Sprintf("Test Child %d", nextID()),
		Balance:  balance,
	}
	if err := db.Create(child).Error; err != nil {
		t.Fatalf("failed to create test child: %v", err)
	}
	return child
}

// CreateTestChildWithUser creates a child profile linked to a login account.
func CreateTestChildWithUser(t *testing.T, db *gorm.DB, familyID uint, userID uint, balance int64) *models.Child {
	t.Helper()

	child := &models.Child{
		FamilyID: familyID,
		UserID:   &userID,
		Name:     fmt.Sprintf("Test Child %d", nextID()),
		Balance:  balance,
	}
	if err := db.Create(child).Error; err != nil {
		t.Fatalf("failed to create test child: %v", err)
	}
	return child
}

// CreateTestRequest creates a pending spending request for the given child.
// Amount is in cents.
func CreateTestRequest(t *testing.T, db *gorm.DB, child *models.Child, amount int64, category models.RequestCategory) *models.SpendingRequest {
	t.Helper()

	now := time.Now()
	request := &models.SpendingRequest{
		ChildID:     child.ID,
		FamilyID:    child.FamilyID,
		Amount:      amount,
		Category:    category,
		Description: fmt.Sprintf("Test request %d", nextID()),
		Priority:    models.PriorityNormal,
		Status:      models.RequestStatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
	}
	if err := db.Create(request).Error; err != nil {
		t.Fatalf("failed to create test request: %v", err)
	}
	return request
}

// CreateTestRule creates an active approval rule covering every child,
// category, and day in the family. MaxAmount is in cents.
func CreateTestRule(t *testing.T, db *gorm.DB, familyID, createdByID uint, maxAmount int64) *models.ApprovalRule {
	t.Helper()

	rule := &models.ApprovalRule{
		FamilyID:    familyID,
		MaxAmount:   maxAmount,
		MaxPerDay:   100,
		IsActive:    true,
		CreatedByID: createdByID,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("failed to create test rule: %v", err)
	}
	return rule
}
