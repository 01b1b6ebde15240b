package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"pocketwise/internal/config"
	"pocketwise/internal/database"
	"pocketwise/internal/handlers"
	"pocketwise/internal/logger"
	"pocketwise/internal/middleware"
	"pocketwise/internal/models"
	"pocketwise/internal/services"
	"pocketwise/internal/validator"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "pocketwise/internal/docs" // Import swagger docs
)

// @title           Pocketwise API
// @version         1.0
// @description     Pocketwise is a family allowance application where children request money for purchases and parents approve, reject, or automate the decisions with approval rules.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger (use ENV var if available, default to development)
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize database configuration
	dbConfig, err := database.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	// Create database manager
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}

	// Run migrations
	if err := dbManager.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	// Initialize services
	db := dbManager.DB()
	userService := services.NewUserService(db)
	ledgerService := services.NewLedgerService(db)
	childService := services.NewChildService(db, userService, ledgerService)
	ruleService := services.NewRuleService(db)
	ruleMatcher := services.NewRuleMatcher(ruleService)
	notificationService := services.NewNotificationService(db)
	auditService := services.NewAuditService(db)
	requestService := services.NewRequestService(db, childService, ledgerService, ruleMatcher, notificationService, appConfig.RequestExpiry)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userService)
	childHandler := handlers.NewChildHandler(childService, ledgerService, notificationService, auditService)
	requestHandler := handlers.NewRequestHandler(requestService, childService, auditService)
	ruleHandler := handlers.NewRuleHandler(ruleService, auditService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Periodically move overdue pending requests to expired so they stop
	// cluttering review queues even when nobody touches them.
	go expirySweep(requestService, appConfig.ExpirySweepInterval)

	// Register custom binding validators before any route can bind a payload
	validator.Register()

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 group
	v1 := router.Group("/api/v1")

	// Public routes
	auth := v1.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware())

	// User profile
	protected.GET("/profile", authHandler.GetProfile)

	// Notification inbox (any role)
	notifications := protected.Group("/notifications")
	notifications.GET("", notificationHandler.GetNotifications)
	notifications.POST("/:id/read", notificationHandler.MarkRead)

	// Child management (parents only)
	children := protected.Group("/children")
	children.Use(middleware.RequireRole(models.RoleParent))
	children.POST("", childHandler.CreateChild)
	children.GET("", childHandler.GetChildren)
	children.GET("/:id", childHandler.GetChild)
	children.GET("/:id/ledger", childHandler.GetChildLedger)
	children.POST("/:id/allowance", childHandler.GrantAllowance)
	children.GET("/:id/requests", requestHandler.GetChildRequests)
	children.GET("/:id/requests/stats", requestHandler.GetChildRequestStats)

	// Spending requests
	requests := protected.Group("/requests")
	requests.POST("", middleware.RequireRole(models.RoleChild), requestHandler.CreateRequest)
	requests.POST("/:id/cancel", middleware.RequireRole(models.RoleChild), requestHandler.CancelRequest)
	requests.GET("/pending", middleware.RequireRole(models.RoleParent), requestHandler.GetPending)
	requests.POST("/:id/approve", middleware.RequireRole(models.RoleParent), requestHandler.ApproveRequest)
	requests.POST("/:id/reject", middleware.RequireRole(models.RoleParent), requestHandler.RejectRequest)
	requests.GET("/:id", requestHandler.GetRequest)

	// Approval rules (parents only)
	rules := protected.Group("/rules")
	rules.Use(middleware.RequireRole(models.RoleParent))
	rules.POST("", ruleHandler.CreateRule)
	rules.GET("", ruleHandler.GetRules)
	rules.PUT("/:id", ruleHandler.UpdateRule)
	rules.DELETE("/:id", ruleHandler.DeleteRule)

	log.Infof("Starting Pocketwise backend server on port %s", appConfig.Port)
	log.Infof("Swagger documentation available at http://localhost:%s/swagger/index.html", appConfig.Port)
	return router.Run(":" + appConfig.Port)
}

// expirySweep runs ExpireOverdue on a fixed interval.
func expirySweep(requests services.RequestServicer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for now := range ticker.C {
		count, err := requests.ExpireOverdue(now)
		if err != nil {
			logger.Get().Errorf("Expiry sweep failed: %v", err)
			continue
		}
		if count > 0 {
			logger.Get().Infof("Expired %d overdue spending request(s)", count)
		}
	}
}
