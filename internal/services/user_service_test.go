package services

import (
	"testing"
	"time"

	"pocketwise/internal/models"
	"pocketwise/internal/testutil"
)

func TestRegisterParent(t *testing.T) {
	t.Run("creates_family_and_parent", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)

		user, err := svc.RegisterParent("Mum@Example.com", "password123", "Jo", "Smith", "The Smiths")
		testutil.AssertNoError(t, err)

		if user.Email != "mum@example.com" {
			t.Errorf("email should be lowercased, got %q", user.Email)
		}
		if user.Role != models.RoleParent {
			t.Errorf("expected parent role, got %s", user.Role)
		}
		if user.FamilyID == 0 {
			t.Error("expected a family to be created")
		}
		if user.Password == "password123" {
			t.Error("password must be stored hashed")
		}

		var family models.Family
		testutil.AssertNoError(t, db.First(&family, user.FamilyID).Error)
		if family.Name != "The Smiths" {
			t.Errorf("expected family name 'The Smiths', got %q", family.Name)
		}
	})

	t.Run("duplicate_email", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)

		_, err := svc.RegisterParent("dad@example.com", "password123", "", "", "Family A")
		testutil.AssertNoError(t, err)

		_, err = svc.RegisterParent("dad@example.com", "password123", "", "", "Family B")
		testutil.AssertAppError(t, err, "DUPLICATE_EMAIL")
	})

	t.Run("missing_family_name", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)

		_, err := svc.RegisterParent("solo@example.com", "password123", "", "", "")
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})
}

func TestAttemptLogin(t *testing.T) {
	t.Run("valid_credentials", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)
		family := testutil.CreateTestFamily(t, db)
		user := testutil.CreateTestParent(t, db, family.ID)

		got, err := svc.AttemptLogin(user.Email, "password123")
		testutil.AssertNoError(t, err)
		if got.LastLoginAt == nil {
			t.Error("expected last_login_at to be set")
		}
	})

	t.Run("wrong_password", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)
		family := testutil.CreateTestFamily(t, db)
		user := testutil.CreateTestParent(t, db, family.ID)

		_, err := svc.AttemptLogin(user.Email, "wrong")
		testutil.AssertAppError(t, err, "INVALID_CREDENTIALS")
	})

	t.Run("unknown_email", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)

		_, err := svc.AttemptLogin("nobody@example.com", "password123")
		testutil.AssertAppError(t, err, "INVALID_CREDENTIALS")
	})

	t.Run("locks_after_repeated_failures", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)
		family := testutil.CreateTestFamily(t, db)
		user := testutil.CreateTestParent(t, db, family.ID)

		for i := 0; i < maxFailedLogins; i++ {
			_, err := svc.AttemptLogin(user.Email, "wrong")
			testutil.AssertAppError(t, err, "INVALID_CREDENTIALS")
		}

		// Locked now, even with the right password.
		_, err := svc.AttemptLogin(user.Email, "password123")
		testutil.AssertAppError(t, err, "ACCOUNT_LOCKED")
	})

	t.Run("success_resets_failure_count", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUserService(db)
		family := testutil.CreateTestFamily(t, db)
		user := testutil.CreateTestParent(t, db, family.ID)

		_, err := svc.AttemptLogin(user.Email, "wrong")
		testutil.AssertAppError(t, err, "INVALID_CREDENTIALS")

		_, err = svc.AttemptLogin(user.Email, "password123")
		testutil.AssertNoError(t, err)

		var reloaded models.User
		testutil.AssertNoError(t, db.First(&reloaded, user.ID).Error)
		if reloaded.FailedLoginAttempts != 0 {
			t.Errorf("expected failure count reset, got %d", reloaded.FailedLoginAttempts)
		}
	})
}

func TestRefreshTokenHash(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUserService(db)
	family := testutil.CreateTestFamily(t, db)
	user := testutil.CreateTestParent(t, db, family.ID)

	testutil.AssertNoError(t, svc.StoreRefreshTokenHash(user.ID, "abc123"))

	hash, err := svc.GetRefreshTokenHash(user.ID)
	testutil.AssertNoError(t, err)
	if hash != "abc123" {
		t.Errorf("expected stored hash, got %q", hash)
	}

	// Rotation replaces the old hash.
	testutil.AssertNoError(t, svc.StoreRefreshTokenHash(user.ID, "def456"))
	hash, err = svc.GetRefreshTokenHash(user.ID)
	testutil.AssertNoError(t, err)
	if hash != "def456" {
		t.Errorf("expected rotated hash, got %q", hash)
	}
}

func TestCreateChildUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUserService(db)
	family := testutil.CreateTestFamily(t, db)

	user, err := svc.CreateChildUser(db, family.ID, "kid@example.com", "password123", "Kid", "")
	testutil.AssertNoError(t, err)

	if user.Role != models.RoleChild {
		t.Errorf("expected child role, got %s", user.Role)
	}
	if user.FamilyID != family.ID {
		t.Errorf("expected family %d, got %d", family.ID, user.FamilyID)
	}

	// The account can log in straight away.
	got, err := svc.AttemptLogin("kid@example.com", "password123")
	testutil.AssertNoError(t, err)
	if got.LastLoginAt == nil || got.LastLoginAt.After(time.Now()) {
		t.Error("expected a sane last_login_at")
	}
}
