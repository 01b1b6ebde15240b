package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pocketwise/internal/handlers"
	"pocketwise/internal/logger"
	"pocketwise/internal/middleware"
	"pocketwise/internal/models"
	"pocketwise/internal/services"
	"pocketwise/internal/validator"
)

// testApp holds the full application stack for integration tests.
type testApp struct {
	DB     *gorm.DB
	Router *gin.Engine
}

// dbCounter ensures each test gets a unique in-memory database.
var dbCounter atomic.Int64

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

// setupIsolatedDB creates an isolated in-memory SQLite database for a single test.
func setupIsolatedDB(t *testing.T) *gorm.DB {
	t.Helper()

	n := dbCounter.Add(1)
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", n)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	allModels := []interface{}{
		&models.Family{},
		&models.User{},
		&models.Child{},
		&models.LedgerEntry{},
		&models.SpendingRequest{},
		&models.ApprovalRule{},
		&models.Notification{},
		&models.AuditLog{},
	}
	if err := db.AutoMigrate(allModels...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// setupApp creates a full application stack backed by an isolated in-memory SQLite.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	db := setupIsolatedDB(t)

	// Services
	userService := services.NewUserService(db)
	ledgerService := services.NewLedgerService(db)
	childService := services.NewChildService(db, userService, ledgerService)
	ruleService := services.NewRuleService(db)
	ruleMatcher := services.NewRuleMatcher(ruleService)
	notificationService := services.NewNotificationService(db)
	auditService := services.NewAuditService(db)
	requestService := services.NewRequestService(db, childService, ledgerService, ruleMatcher, notificationService, 7*24*time.Hour)

	// Handlers
	authHandler := handlers.NewAuthHandler(userService)
	childHandler := handlers.NewChildHandler(childService, ledgerService, notificationService, auditService)
	requestHandler := handlers.NewRequestHandler(requestService, childService, auditService)
	ruleHandler := handlers.NewRuleHandler(ruleService, auditService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())

	v1 := router.Group("/api/v1")

	// Public auth routes
	auth := v1.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware())

	protected.GET("/profile", authHandler.GetProfile)

	notifications := protected.Group("/notifications")
	notifications.GET("", notificationHandler.GetNotifications)
	notifications.POST("/:id/read", notificationHandler.MarkRead)

	children := protected.Group("/children")
	children.Use(middleware.RequireRole(models.RoleParent))
	children.POST("", childHandler.CreateChild)
	children.GET("", childHandler.GetChildren)
	children.GET("/:id", childHandler.GetChild)
	children.GET("/:id/ledger", childHandler.GetChildLedger)
	children.POST("/:id/allowance", childHandler.GrantAllowance)
	children.GET("/:id/requests", requestHandler.GetChildRequests)
	children.GET("/:id/requests/stats", requestHandler.GetChildRequestStats)

	requests := protected.Group("/requests")
	requests.POST("", middleware.RequireRole(models.RoleChild), requestHandler.CreateRequest)
	requests.POST("/:id/cancel", middleware.RequireRole(models.RoleChild), requestHandler.CancelRequest)
	requests.GET("/pending", middleware.RequireRole(models.RoleParent), requestHandler.GetPending)
	requests.POST("/:id/approve", middleware.RequireRole(models.RoleParent), requestHandler.ApproveRequest)
	requests.POST("/:id/reject", middleware.RequireRole(models.RoleParent), requestHandler.RejectRequest)
	requests.GET("/:id", requestHandler.GetRequest)

	rules := protected.Group("/rules")
	rules.Use(middleware.RequireRole(models.RoleParent))
	rules.POST("", ruleHandler.CreateRule)
	rules.GET("", ruleHandler.GetRules)
	rules.PUT("/:id", ruleHandler.UpdateRule)
	rules.DELETE("/:id", ruleHandler.DeleteRule)

	return &testApp{DB: db, Router: router}
}

// request makes an HTTP request to the test router and returns the recorder.
func (app *testApp) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

// registerParent registers a parent and returns the access token, refresh token, and user ID.
func (app *testApp) registerParent(t *testing.T, email, password string) (accessToken, refreshToken string, userID float64) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q,"first_name":"Test","last_name":"Parent","family_name":"The Testers"}`, email, password)
	rec := app.request("POST", "/api/v1/auth/register", body, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	user := result["user"].(map[string]interface{})
	return result["access_token"].(string), result["refresh_token"].(string), user["id"].(float64)
}

// loginUser logs in and returns the access and refresh tokens.
func (app *testApp) loginUser(t *testing.T, email, password string) (accessToken, refreshToken string) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	rec := app.request("POST", "/api/v1/auth/login", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	return result["access_token"].(string), result["refresh_token"].(string)
}

// createChild adds a child with a login account and opening balance, returning the child ID.
func (app *testApp) createChild(t *testing.T, parentToken, name, email, password string, balance int64) float64 {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"email":%q,"password":%q,"initial_balance":%d}`, name, email, password, balance)
	rec := app.request("POST", "/api/v1/children", body, parentToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create child failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	child := result["child"].(map[string]interface{})
	return child["id"].(float64)
}

// fileRequest files a spending request as the child and returns the parsed request object.
func (app *testApp) fileRequest(t *testing.T, childToken string, amount int64, category, description string) map[string]interface{} {
	t.Helper()
	body := fmt.Sprintf(`{"amount":%d,"category":%q,"description":%q}`, amount, category, description)
	rec := app.request("POST", "/api/v1/requests", body, childToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("file request failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	return result["request"].(map[string]interface{})
}
