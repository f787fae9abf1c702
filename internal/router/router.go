package router

import (
	"time"

	"schoolpay/config"
	"schoolpay/internal/domain"
	"schoolpay/internal/handler"
	"schoolpay/internal/middleware"
	"schoolpay/internal/repository"
	"schoolpay/internal/service"
	"schoolpay/internal/vault"
	"schoolpay/internal/ws"
	"schoolpay/pkg/cloudinary"
	"schoolpay/pkg/gateway"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the externally constructed pieces the router wires together.
type Deps struct {
	DB       *gorm.DB
	Vault    *vault.Vault
	Registry *gateway.Registry
	Cloud    cloudinary.Client
	Hub      *ws.PaymentHub
}

// Setup builds the full HTTP surface. It also returns the payment service
// so main can run the expiry sweeper against the same instance.
func Setup(cfg *config.Config, deps Deps) (*gin.Engine, *service.PaymentService) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	gatewayRepo := repository.NewGatewayRepository(deps.DB)
	credRepo := repository.NewCredentialRepository(deps.DB)
	txnRepo := repository.NewTransactionRepository(deps.DB)
	invoiceRepo := repository.NewInvoiceRepository(deps.DB)
	settingRepo := repository.NewSettingRepository(deps.DB)
	logRepo := repository.NewWebhookLogRepository(deps.DB)

	// Services
	invoiceSvc := service.NewInvoiceService(invoiceRepo, txnRepo)
	paymentSvc := service.NewPaymentService(cfg, deps.Registry, deps.Vault, gatewayRepo, credRepo, txnRepo, invoiceSvc, deps.Hub)
	webhookSvc := service.NewWebhookService(deps.Registry, gatewayRepo, txnRepo, logRepo, paymentSvc)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(paymentSvc, gatewayRepo, deps.Cloud)
	webhookHandler := handler.NewWebhookHandler(webhookSvc)
	adminHandler := handler.NewGatewayAdminHandler(paymentSvc, gatewayRepo, credRepo, logRepo, deps.Vault)
	settingsHandler := handler.NewSettingsHandler(settingRepo)

	authMw := middleware.AuthRequired(&cfg.JWT)
	adminMw := middleware.RequireRole(domain.RoleAdmin)

	api := r.Group("/api/v1")
	{
		payments := api.Group("/payments")
		payments.Use(authMw)
		{
			payments.POST("/session", paymentHandler.CreateSession)
			payments.GET("", paymentHandler.History)
			payments.GET("/gateways", paymentHandler.ListGateways)
			payments.GET("/:transaction_id", paymentHandler.GetTransaction)
			payments.POST("/:transaction_id/verify", paymentHandler.VerifyPayment)
			payments.POST("/bank-transfer/:transaction_id/proof", paymentHandler.UploadProofOfPayment)
		}

		// Providers call these unauthenticated; verification is the signature.
		// The limiter keys on gateway+IP so one noisy provider cannot starve the rest.
		webhookLimiter := middleware.NewInMemoryRateLimiter(300, 60*time.Second)
		api.POST("/webhooks/:gateway", middleware.RateLimitWebhook(webhookLimiter), webhookHandler.Handle)

		admin := api.Group("/admin")
		admin.Use(authMw, adminMw)
		{
			admin.GET("/gateways", adminHandler.ListGateways)
			admin.POST("/gateways", adminHandler.CreateGateway)
			admin.PUT("/gateways/:gateway_id", adminHandler.UpdateGateway)
			admin.DELETE("/gateways/:gateway_id", adminHandler.DeleteGateway)
			admin.POST("/gateways/:gateway_id/default", adminHandler.SetDefaultGateway)
			admin.GET("/gateways/:gateway_id/credentials", adminHandler.ListCredentials)
			admin.POST("/gateways/:gateway_id/credentials", adminHandler.CreateCredential)
			admin.POST("/credentials/:credential_id/activate", adminHandler.ActivateCredential)
			admin.POST("/gateways/:gateway_id/test-connection", adminHandler.TestConnection)

			admin.POST("/payments/:transaction_id/confirm", adminHandler.ConfirmBankTransfer)
			admin.POST("/payments/:transaction_id/refund", adminHandler.Refund)
			admin.POST("/payments/cleanup", adminHandler.Cleanup)
			admin.GET("/payments/analytics", adminHandler.Analytics)
			admin.GET("/webhooks/:gateway/logs", adminHandler.WebhookLogs)

			admin.GET("/settings/bank-details", settingsHandler.GetBankDetails)
			admin.PUT("/settings/bank-details", settingsHandler.UpdateBankDetails)
		}
	}

	r.GET("/ws/payments", ws.UpgradePaymentWS(&cfg.JWT, deps.Hub))

	return r, paymentSvc
}
