package services

import (
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
	"pocketwise/internal/testutil"
)

// newRequestStack wires the full service stack backing the spending request
// workflow against the given test database.
func newRequestStack(db *gorm.DB) RequestServicer {
	userSvc := NewUserService(db)
	ledger := NewLedgerService(db)
	childSvc := NewChildService(db, userSvc, ledger)
	ruleSvc := NewRuleService(db)
	matcher := NewRuleMatcher(ruleSvc)
	notifier := NewNotificationService(db)
	return NewRequestService(db, childSvc, ledger, matcher, notifier, 7*24*time.Hour)
}

// drainedLedger reports a healthy balance but fails every debit, standing in
// for a balance that empties between the creation pre-check and the
// auto-approval debit.
type drainedLedger struct {
	LedgerServicer
}

func (l *drainedLedger) Debit(tx *gorm.DB, childID uint, amount int64, memo string, actorID *uint) (*models.LedgerEntry, error) {
	return nil, apperrors.ErrInsufficientBalance
}

func countNotifications(t *testing.T, db *gorm.DB, userID uint, eventType models.NotificationType) int64 {
	t.Helper()
	var count int64
	err := db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", userID, eventType).
		Count(&count).Error
	testutil.AssertNoError(t, err)
	return count
}

func childBalance(t *testing.T, db *gorm.DB, childID uint) int64 {
	t.Helper()
	var child models.Child
	testutil.AssertNoError(t, db.First(&child, childID).Error)
	return child.Balance
}

func TestCreateRequest(t *testing.T) {
	t.Run("creates_pending_request", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)

		request, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount:      2500,
			Category:    models.CategoryToys,
			Description: "Lego set",
		})
		testutil.AssertNoError(t, err)

		if request.Status != models.RequestStatusPending {
			t.Errorf("expected pending status, got %s", request.Status)
		}
		if request.LedgerEntryID != nil {
			t.Error("pending request should have no ledger entry")
		}
		if request.Priority != models.PriorityNormal {
			t.Errorf("expected default priority normal, got %s", request.Priority)
		}
		if !request.ExpiresAt.After(request.RequestedAt) {
			t.Error("expiry should be after the request time")
		}

		// Balance untouched until a decision is made.
		if got := childBalance(t, db, child.ID); got != 10000 {
			t.Errorf("expected balance 10000, got %d", got)
		}

		// Parents are notified; the child is not.
		if n := countNotifications(t, db, parent.ID, models.NotificationRequestCreated); n != 1 {
			t.Errorf("expected 1 parent notification, got %d", n)
		}
		if n := countNotifications(t, db, childUser.ID, models.NotificationRequestAutoApproved); n != 0 {
			t.Errorf("expected no child notification, got %d", n)
		}
	})

	t.Run("zero_amount", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)

		_, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 0, Category: models.CategorySnacks, Description: "Chips",
		})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("blank_description", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)

		_, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 500, Category: models.CategorySnacks, Description: "   ",
		})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("unknown_category", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)

		_, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 500, Category: "jewellery", Description: "Ring",
		})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("insufficient_balance", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 400)

		_, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 500, Category: models.CategorySnacks, Description: "Chips",
		})
		testutil.AssertAppError(t, err, "INSUFFICIENT_BALANCE")
	})

	t.Run("auto_approved_by_matching_rule", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		rule := testutil.CreateTestRule(t, db, family.ID, parent.ID, 1000)

		request, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 800, Category: models.CategorySnacks, Description: "Ice cream",
		})
		testutil.AssertNoError(t, err)

		if request.Status != models.RequestStatusApproved {
			t.Fatalf("expected approved status, got %s", request.Status)
		}
		if !request.AutoApproved {
			t.Error("request should be marked auto-approved")
		}
		if request.ApprovedByRuleID == nil || *request.ApprovedByRuleID != rule.ID {
			t.Errorf("expected approved_by_rule_id %d, got %v", rule.ID, request.ApprovedByRuleID)
		}
		if request.LedgerEntryID == nil {
			t.Error("approved request should reference a ledger entry")
		}
		if request.ReviewedAt != nil || request.ReviewedByID != nil {
			t.Error("auto-approved request should carry no reviewer fields")
		}

		if got := childBalance(t, db, child.ID); got != 9200 {
			t.Errorf("expected balance 9200, got %d", got)
		}

		// The child hears about it; parents do not.
		if n := countNotifications(t, db, childUser.ID, models.NotificationRequestAutoApproved); n != 1 {
			t.Errorf("expected 1 child notification, got %d", n)
		}
		if n := countNotifications(t, db, parent.ID, models.NotificationRequestCreated); n != 0 {
			t.Errorf("expected no parent notification, got %d", n)
		}
	})

	t.Run("amount_above_rule_cap_stays_pending", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		testutil.CreateTestRule(t, db, family.ID, parent.ID, 1000)

		request, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 1001, Category: models.CategorySnacks, Description: "Big snack run",
		})
		testutil.AssertNoError(t, err)

		if request.Status != models.RequestStatusPending {
			t.Errorf("expected pending status, got %s", request.Status)
		}
		if got := childBalance(t, db, child.ID); got != 10000 {
			t.Errorf("expected balance 10000, got %d", got)
		}
	})

	t.Run("inactive_rule_does_not_match", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		rule := testutil.CreateTestRule(t, db, family.ID, parent.ID, 1000)
		testutil.AssertNoError(t, db.Model(rule).Update("is_active", false).Error)

		request, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 500, Category: models.CategorySnacks, Description: "Chips",
		})
		testutil.AssertNoError(t, err)

		if request.Status != models.RequestStatusPending {
			t.Errorf("expected pending status, got %s", request.Status)
		}
	})

	t.Run("debit_race_falls_back_to_manual_review", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		testutil.CreateTestRule(t, db, family.ID, parent.ID, 1000)

		userSvc := NewUserService(db)
		childSvc := NewChildService(db, userSvc, NewLedgerService(db))
		matcher := NewRuleMatcher(NewRuleService(db))
		notifier := NewNotificationService(db)
		svc := NewRequestService(db, childSvc, &drainedLedger{NewLedgerService(db)}, matcher, notifier, 7*24*time.Hour)

		request, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 500, Category: models.CategorySnacks, Description: "Chips",
		})
		testutil.AssertNoError(t, err)

		// The rule matched but the money was gone: the request falls back to
		// the manual queue instead of failing.
		if request.Status != models.RequestStatusPending {
			t.Fatalf("expected pending status, got %s", request.Status)
		}
		if request.AutoApproved {
			t.Error("request should not be marked auto-approved")
		}
		if request.LedgerEntryID != nil {
			t.Error("no ledger entry should be referenced")
		}
		if got := childBalance(t, db, child.ID); got != 10000 {
			t.Errorf("expected balance untouched at 10000, got %d", got)
		}

		// Parents get the usual review notification.
		if n := countNotifications(t, db, parent.ID, models.NotificationRequestCreated); n != 1 {
			t.Errorf("expected 1 parent notification, got %d", n)
		}
		if n := countNotifications(t, db, childUser.ID, models.NotificationRequestAutoApproved); n != 0 {
			t.Errorf("expected no child notification, got %d", n)
		}
	})
}

func TestAutoApprovalDailyLimits(t *testing.T) {
	t.Run("max_per_day_reached", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		rule := testutil.CreateTestRule(t, db, family.ID, parent.ID, 1000)
		testutil.AssertNoError(t, db.Model(rule).Update("max_per_day", 2).Error)

		for i := 0; i < 2; i++ {
			request, err := svc.Create(childUser.ID, CreateRequestInput{
				Amount: 300, Category: models.CategorySnacks, Description: "Snack",
			})
			testutil.AssertNoError(t, err)
			if request.Status != models.RequestStatusApproved {
				t.Fatalf("request %d: expected approved, got %s", i+1, request.Status)
			}
		}

		third, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 300, Category: models.CategorySnacks, Description: "Snack",
		})
		testutil.AssertNoError(t, err)
		if third.Status != models.RequestStatusPending {
			t.Errorf("third request should fall through to manual review, got %s", third.Status)
		}
	})

	t.Run("max_daily_total_would_be_exceeded", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		rule := testutil.CreateTestRule(t, db, family.ID, parent.ID, 5000)
		testutil.AssertNoError(t, db.Model(rule).Update("max_daily_total", 3000).Error)

		first, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 2500, Category: models.CategoryGames, Description: "Game credits",
		})
		testutil.AssertNoError(t, err)
		if first.Status != models.RequestStatusApproved {
			t.Fatalf("expected approved, got %s", first.Status)
		}

		// 2500 + 1000 breaches the 3000 cap.
		second, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 1000, Category: models.CategoryGames, Description: "More credits",
		})
		testutil.AssertNoError(t, err)
		if second.Status != models.RequestStatusPending {
			t.Errorf("expected pending, got %s", second.Status)
		}

		// 2500 + 500 lands exactly on the cap and is allowed.
		third, err := svc.Create(childUser.ID, CreateRequestInput{
			Amount: 500, Category: models.CategoryGames, Description: "Small top-up",
		})
		testutil.AssertNoError(t, err)
		if third.Status != models.RequestStatusApproved {
			t.Errorf("expected approved, got %s", third.Status)
		}
	})
}

func TestApproveRequest(t *testing.T) {
	t.Run("debits_and_finalizes", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 3000, models.CategoryBooks)

		approved, err := svc.Approve(family.ID, parent.ID, request.ID, "enjoy")
		testutil.AssertNoError(t, err)

		if approved.Status != models.RequestStatusApproved {
			t.Errorf("expected approved status, got %s", approved.Status)
		}
		if approved.ReviewedByID == nil || *approved.ReviewedByID != parent.ID {
			t.Errorf("expected reviewer %d, got %v", parent.ID, approved.ReviewedByID)
		}
		if approved.ReviewedAt == nil {
			t.Error("expected reviewed_at to be set")
		}
		if approved.LedgerEntryID == nil {
			t.Fatal("approved request should reference a ledger entry")
		}

		var entry models.LedgerEntry
		testutil.AssertNoError(t, db.First(&entry, *approved.LedgerEntryID).Error)
		if entry.Amount != -3000 {
			t.Errorf("expected ledger amount -3000, got %d", entry.Amount)
		}
		if entry.BalanceAfter != 7000 {
			t.Errorf("expected balance after 7000, got %d", entry.BalanceAfter)
		}

		if got := childBalance(t, db, child.ID); got != 7000 {
			t.Errorf("expected balance 7000, got %d", got)
		}
		if n := countNotifications(t, db, childUser.ID, models.NotificationRequestApproved); n != 1 {
			t.Errorf("expected 1 approval notification, got %d", n)
		}
	})

	t.Run("wrong_family", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		other := testutil.CreateTestFamily(t, db)
		otherParent := testutil.CreateTestParent(t, db, other.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.Approve(other.ID, otherParent.ID, request.ID, "")
		testutil.AssertAppError(t, err, "NOT_FAMILY_MEMBER")
	})

	t.Run("already_decided", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.Approve(family.ID, parent.ID, request.ID, "")
		testutil.AssertNoError(t, err)

		// Second decision on the same request loses.
		_, err = svc.Approve(family.ID, parent.ID, request.ID, "")
		testutil.AssertAppError(t, err, "REQUEST_NOT_PENDING")

		// Exactly one debit happened.
		if got := childBalance(t, db, child.ID); got != 9000 {
			t.Errorf("expected balance 9000, got %d", got)
		}
	})

	t.Run("concurrent_double_approve", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)

		// One pooled connection: SQLite allows a single writer, so both
		// goroutines serialize there and the guarded UPDATE picks the winner.
		sqlDB, err := db.DB()
		testutil.AssertNoError(t, err)
		sqlDB.SetMaxOpenConns(1)

		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		results := make(chan error, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Approve(family.ID, parent.ID, request.ID, "")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins, losses int
		for err := range results {
			if err == nil {
				wins++
			} else {
				testutil.AssertAppError(t, err, "REQUEST_NOT_PENDING")
				losses++
			}
		}
		if wins != 1 || losses != 1 {
			t.Fatalf("expected exactly one winner and one loser, got %d winners and %d losers", wins, losses)
		}

		// A single debit, applied once.
		var entries int64
		testutil.AssertNoError(t, db.Model(&models.LedgerEntry{}).
			Where("child_id = ?", child.ID).Count(&entries).Error)
		if entries != 1 {
			t.Errorf("expected a single ledger entry, got %d", entries)
		}
		if got := childBalance(t, db, child.ID); got != 9000 {
			t.Errorf("expected balance 9000, got %d", got)
		}
	})

	t.Run("balance_dropped_before_review", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 3000, models.CategoryToys)

		// Money left through another approval in the meantime.
		testutil.AssertNoError(t, db.Model(child).Update("balance", 2000).Error)

		_, err := svc.Approve(family.ID, parent.ID, request.ID, "")
		testutil.AssertAppError(t, err, "INSUFFICIENT_BALANCE")

		// The claim rolled back: the request is still pending and can be
		// rejected.
		reloaded, err := svc.GetByID(family.ID, request.ID)
		testutil.AssertNoError(t, err)
		if reloaded.Status != models.RequestStatusPending {
			t.Fatalf("expected request to stay pending, got %s", reloaded.Status)
		}

		rejected, err := svc.Reject(family.ID, parent.ID, request.ID, "not enough money left")
		testutil.AssertNoError(t, err)
		if rejected.Status != models.RequestStatusRejected {
			t.Errorf("expected rejected status, got %s", rejected.Status)
		}
	})

	t.Run("overdue_request_expires_on_touch", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)
		past := time.Now().Add(-time.Hour)
		testutil.AssertNoError(t, db.Model(request).Update("expires_at", past).Error)

		_, err := svc.Approve(family.ID, parent.ID, request.ID, "")
		testutil.AssertAppError(t, err, "REQUEST_NOT_PENDING")

		reloaded, err := svc.GetByID(family.ID, request.ID)
		testutil.AssertNoError(t, err)
		if reloaded.Status != models.RequestStatusExpired {
			t.Errorf("expected expired status, got %s", reloaded.Status)
		}
		if got := childBalance(t, db, child.ID); got != 10000 {
			t.Errorf("expected balance untouched at 10000, got %d", got)
		}
	})
}

func TestRejectRequest(t *testing.T) {
	t.Run("requires_notes", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.Reject(family.ID, parent.ID, request.ID, "  ")
		testutil.AssertAppError(t, err, "REVIEW_NOTES_REQUIRED")
	})

	t.Run("rejects_without_moving_money", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		rejected, err := svc.Reject(family.ID, parent.ID, request.ID, "too expensive")
		testutil.AssertNoError(t, err)

		if rejected.Status != models.RequestStatusRejected {
			t.Errorf("expected rejected status, got %s", rejected.Status)
		}
		if rejected.ReviewNotes != "too expensive" {
			t.Errorf("expected review notes to be stored, got %q", rejected.ReviewNotes)
		}
		if rejected.LedgerEntryID != nil {
			t.Error("rejected request should have no ledger entry")
		}
		if got := childBalance(t, db, child.ID); got != 10000 {
			t.Errorf("expected balance 10000, got %d", got)
		}
		if n := countNotifications(t, db, childUser.ID, models.NotificationRequestRejected); n != 1 {
			t.Errorf("expected 1 rejection notification, got %d", n)
		}
	})

	t.Run("already_decided", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.Reject(family.ID, parent.ID, request.ID, "no")
		testutil.AssertNoError(t, err)

		_, err = svc.Reject(family.ID, parent.ID, request.ID, "still no")
		testutil.AssertAppError(t, err, "REQUEST_NOT_PENDING")
	})
}

func TestCancelRequest(t *testing.T) {
	t.Run("child_cancels_own_request", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		cancelled, err := svc.Cancel(childUser.ID, request.ID)
		testutil.AssertNoError(t, err)
		if cancelled.Status != models.RequestStatusCancelled {
			t.Errorf("expected cancelled status, got %s", cancelled.Status)
		}
	})

	t.Run("other_child_cannot_cancel", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		siblingUser := testutil.CreateTestChildUser(t, db, family.ID)
		testutil.CreateTestChildWithUser(t, db, family.ID, siblingUser.ID, 5000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.Cancel(siblingUser.ID, request.ID)
		testutil.AssertAppError(t, err, "FORBIDDEN")
	})

	t.Run("double_cancel", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		childUser := testutil.CreateTestChildUser(t, db, family.ID)
		child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.Cancel(childUser.ID, request.ID)
		testutil.AssertNoError(t, err)

		_, err = svc.Cancel(childUser.ID, request.ID)
		testutil.AssertAppError(t, err, "REQUEST_NOT_PENDING")
	})
}

func TestGetRequests(t *testing.T) {
	t.Run("get_by_id_scoped_to_family", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		other := testutil.CreateTestFamily(t, db)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)
		request := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)

		_, err := svc.GetByID(other.ID, request.ID)
		testutil.AssertAppError(t, err, "REQUEST_NOT_FOUND")
	})

	t.Run("pending_list_excludes_overdue_oldest_first", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)

		older := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)
		testutil.AssertNoError(t, db.Model(older).Update("requested_at", time.Now().Add(-2*time.Hour)).Error)
		newer := testutil.CreateTestRequest(t, db, child, 2000, models.CategoryGames)
		overdue := testutil.CreateTestRequest(t, db, child, 3000, models.CategoryBooks)
		testutil.AssertNoError(t, db.Model(overdue).Update("expires_at", time.Now().Add(-time.Minute)).Error)

		result, err := svc.GetPendingForFamily(family.ID, pagination.PageRequest{})
		testutil.AssertNoError(t, err)

		if len(result.Data) != 2 {
			t.Fatalf("expected 2 pending requests, got %d", len(result.Data))
		}
		if result.Data[0].ID != older.ID || result.Data[1].ID != newer.ID {
			t.Errorf("expected oldest-first order [%d %d], got [%d %d]",
				older.ID, newer.ID, result.Data[0].ID, result.Data[1].ID)
		}
	})

	t.Run("child_history_filtered_by_status", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newRequestStack(db)
		family := testutil.CreateTestFamily(t, db)
		parent := testutil.CreateTestParent(t, db, family.ID)
		child := testutil.CreateTestChild(t, db, family.ID, 10000)

		approved := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)
		testutil.CreateTestRequest(t, db, child, 2000, models.CategoryGames)
		_, err := svc.Approve(family.ID, parent.ID, approved.ID, "")
		testutil.AssertNoError(t, err)

		status := models.RequestStatusApproved
		result, err := svc.GetForChild(family.ID, child.ID, &status, pagination.PageRequest{})
		testutil.AssertNoError(t, err)

		if len(result.Data) != 1 {
			t.Fatalf("expected 1 approved request, got %d", len(result.Data))
		}
		if result.Data[0].ID != approved.ID {
			t.Errorf("expected request %d, got %d", approved.ID, result.Data[0].ID)
		}
	})
}

func TestRequestStatistics(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newRequestStack(db)
	family := testutil.CreateTestFamily(t, db)
	parent := testutil.CreateTestParent(t, db, family.ID)
	childUser := testutil.CreateTestChildUser(t, db, family.ID)
	child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 100000)

	first := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)
	second := testutil.CreateTestRequest(t, db, child, 2000, models.CategoryGames)
	third := testutil.CreateTestRequest(t, db, child, 3000, models.CategoryBooks)
	testutil.CreateTestRequest(t, db, child, 4000, models.CategorySnacks)

	_, err := svc.Approve(family.ID, parent.ID, first.ID, "")
	testutil.AssertNoError(t, err)
	_, err = svc.Reject(family.ID, parent.ID, second.ID, "no")
	testutil.AssertNoError(t, err)
	_, err = svc.Cancel(childUser.ID, third.ID)
	testutil.AssertNoError(t, err)

	stats, err := svc.Statistics(family.ID, child.ID, time.Now().Add(-time.Hour))
	testutil.AssertNoError(t, err)

	if stats.TotalCount != 4 {
		t.Errorf("expected total 4, got %d", stats.TotalCount)
	}
	if stats.ApprovedCount != 1 || stats.RejectedCount != 1 || stats.CancelledCount != 1 || stats.PendingCount != 1 {
		t.Errorf("unexpected status counts: %+v", stats)
	}
	if stats.ApprovedTotal != 1000 {
		t.Errorf("expected approved total 1000, got %d", stats.ApprovedTotal)
	}
	if stats.RejectedTotal != 2000 {
		t.Errorf("expected rejected total 2000, got %d", stats.RejectedTotal)
	}
	if stats.ApprovalRate != 0.25 {
		t.Errorf("expected approval rate 0.25, got %f", stats.ApprovalRate)
	}
	if stats.AutoApprovedCount != 0 {
		t.Errorf("expected no auto-approvals, got %d", stats.AutoApprovedCount)
	}
}

func TestExpireOverdue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newRequestStack(db)
	family := testutil.CreateTestFamily(t, db)
	childUser := testutil.CreateTestChildUser(t, db, family.ID)
	child := testutil.CreateTestChildWithUser(t, db, family.ID, childUser.ID, 10000)

	past := time.Now().Add(-time.Hour)
	first := testutil.CreateTestRequest(t, db, child, 1000, models.CategoryToys)
	testutil.AssertNoError(t, db.Model(first).Update("expires_at", past).Error)
	second := testutil.CreateTestRequest(t, db, child, 2000, models.CategoryGames)
	testutil.AssertNoError(t, db.Model(second).Update("expires_at", past).Error)
	fresh := testutil.CreateTestRequest(t, db, child, 3000, models.CategoryBooks)

	count, err := svc.ExpireOverdue(time.Now())
	testutil.AssertNoError(t, err)
	if count != 2 {
		t.Fatalf("expected 2 expired, got %d", count)
	}

	for _, id := range []uint{first.ID, second.ID} {
		var request models.SpendingRequest
		testutil.AssertNoError(t, db.First(&request, id).Error)
		if request.Status != models.RequestStatusExpired {
			t.Errorf("request %d: expected expired, got %s", id, request.Status)
		}
	}

	var untouched models.SpendingRequest
	testutil.AssertNoError(t, db.First(&untouched, fresh.ID).Error)
	if untouched.Status != models.RequestStatusPending {
		t.Errorf("fresh request should stay pending, got %s", untouched.Status)
	}

	if n := countNotifications(t, db, childUser.ID, models.NotificationRequestExpired); n != 2 {
		t.Errorf("expected 2 expiry notifications, got %d", n)
	}

	// Idempotent: nothing left to expire.
	count, err = svc.ExpireOverdue(time.Now())
	testutil.AssertNoError(t, err)
	if count != 0 {
		t.Errorf("expected 0 expired on second sweep, got %d", count)
	}
}
