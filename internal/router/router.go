// internal/router/router.go
package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/localdeals/voucher-core/internal/config"
	"github.com/localdeals/voucher-core/internal/database"
	"github.com/localdeals/voucher-core/internal/handlers"
	"github.com/localdeals/voucher-core/internal/metrics"
	"github.com/localdeals/voucher-core/internal/middleware"
	"github.com/localdeals/voucher-core/internal/models"
	"github.com/localdeals/voucher-core/internal/services"
	"github.com/localdeals/voucher-core/internal/utils"
)

const Version = "1.0.0"

// Initialize wires services, handlers and middleware onto a new engine. The
// returned cleanup releases the rate limiters and must be called on shutdown.
func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, func(), error) {
	voucherMetrics := metrics.Default()
	bounds := database.TxBounds{
		Timeout:     cfg.Database.TxTimeout(),
		LockTimeout: cfg.Database.LockTimeout(),
	}

	archiver, err := services.NewAuditArchiver(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit archive: %w", err)
	}

	var payments services.PaymentVerifier
	if cfg.Payment.VerifyPayments {
		payments = services.NewStripePaymentVerifier(cfg.Payment.StripeSecretKey)
	}

	// Initialize services
	identityService := services.NewIdentityService(db)
	gateService := services.NewGateService(db)
	auditService := services.NewAuditService(db, archiver)
	authService := services.NewAuthService(db, cfg)
	sessionService := services.NewVendorSessionService(db, cfg.Vendor.SessionTTLHours)
	issuanceService := services.NewIssuanceService(db, gateService, auditService, payments, voucherMetrics, bounds, cfg.Voucher)
	redemptionService := services.NewRedemptionService(db, auditService, voucherMetrics, bounds)
	visibilityService := services.NewVisibilityService(db, auditService)
	adminService := services.NewAdminService(db)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	voucherHandler := handlers.NewVoucherHandler(issuanceService, redemptionService)
	visibilityHandler := handlers.NewVisibilityHandler(identityService, visibilityService)
	adminHandler := handlers.NewAdminHandler(adminService, auditService)
	healthHandler := handlers.NewHealthHandler(db, Version)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	issueLimiter, authLimiter, cleanup := newLimiters(cfg)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authRequired := middleware.AuthRequired(identityService)

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit(authLimiter))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", authRequired, authHandler.GetProfile)
		}

		// Voucher routes
		vouchers := v1.Group("/vouchers")
		vouchers.Use(authRequired)
		{
			vouchers.POST("/issue",
				middleware.RolesRequired(models.RoleVendor),
				middleware.VendorBindingRequired(identityService),
				middleware.RateLimit(issueLimiter),
				voucherHandler.Issue,
			)
			vouchers.GET("/:id", visibilityHandler.GetVoucher)
			vouchers.GET("/:id/redemption-history", visibilityHandler.GetRedemptionHistory)
		}

		// Redemption authenticates with the vendor session alone
		v1.POST("/redeem", middleware.VendorSessionRequired(sessionService, redemptionService), voucherHandler.Redeem)

		// Account routes
		me := v1.Group("/me")
		me.Use(authRequired, middleware.RolesRequired(models.RoleUser))
		{
			me.GET("/vouchers", visibilityHandler.ListVouchers)
		}

		// Vendor routes
		vendor := v1.Group("/vendor")
		vendor.Use(authRequired, middleware.RolesRequired(models.RoleVendor))
		{
			vendor.POST("/sessions", middleware.VendorBindingRequired(identityService), sessionHandler.Open)
			vendor.DELETE("/sessions/current", sessionHandler.Revoke)
			vendor.GET("/vouchers", visibilityHandler.ListVouchers)
			vendor.GET("/redemptions", visibilityHandler.ListRedemptions)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(authRequired, middleware.AdminRequired())
		{
			admin.POST("/vendors/:id/business", adminHandler.BindVendor)
			admin.PUT("/users/:id/status", adminHandler.UpdateUserStatus)
			admin.PUT("/businesses/:id/status", adminHandler.UpdateBusinessStatus)
			admin.PUT("/deals/:id/status", adminHandler.UpdateDealStatus)

			admin.GET("/vouchers", visibilityHandler.ListVouchers)
			admin.GET("/redemptions", visibilityHandler.ListRedemptions)
			admin.POST("/vouchers/:id/audit/export", adminHandler.ExportAudit)
			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
		}
	}

	return r, cleanup, nil
}

// newLimiters shares buckets across instances through Redis when it is
// configured and falls back to process memory otherwise.
func newLimiters(cfg *config.Config) (issue, auth middleware.Limiter, cleanup func()) {
	issueRate := middleware.PerMinute(cfg.RateLimit.IssuePerMinute)
	authRate := middleware.PerMinute(cfg.RateLimit.AuthPerMinute)

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logrus.WithField("addr", cfg.Redis.Addr()).Info("Using Redis rate limiter")
		closeClient := func() {
			if err := client.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close Redis client")
			}
		}
		return middleware.NewRedisRateLimiter(client, "ratelimit:issue:", issueRate, cfg.RateLimit.Burst),
			middleware.NewRedisRateLimiter(client, "ratelimit:auth:", authRate, cfg.RateLimit.Burst),
			closeClient
	}

	issueLocal := middleware.NewRateLimiter(issueRate, cfg.RateLimit.Burst)
	authLocal := middleware.NewRateLimiter(authRate, cfg.RateLimit.Burst)
	return issueLocal, authLocal, func() {
		issueLocal.Stop()
		authLocal.Stop()
	}
}
