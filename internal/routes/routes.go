// Package routes defines the API routing configuration.
package routes

import (
	"kudi/internal/handlers"
	"kudi/internal/middleware"
	"kudi/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Handlers groups everything SetupRoutes mounts.
type Handlers struct {
	Wallet      *handlers.WalletHandler
	Funding     *handlers.FundingHandler
	Withdrawal  *handlers.WithdrawalHandler
	BankAccount *handlers.BankAccountHandler
	Webhook     *handlers.WebhookHandler
	Health      *handlers.HealthHandler
	Admin       *handlers.AdminHandler
	Metrics     fiber.Handler
}

// SetupRoutes configures all application routes.
// It groups routes by functionality and applies appropriate middleware.
func SetupRoutes(app *fiber.App, h Handlers, auth *middleware.AuthMiddleware) {
	app.Get("/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics)
	}

	// Provider callbacks authenticate by signature, not by token.
	app.Post("/webhooks/paystack", h.Webhook.Paystack)

	api := app.Group("/api", auth.Handler)

	read := middleware.HasPermission(models.PermissionWalletRead)
	write := middleware.HasPermission(models.PermissionWalletWrite)

	wallet := api.Group("/wallet")
	wallet.Get("/", read, h.Wallet.GetWallet)
	wallet.Get("/transactions", read, h.Wallet.GetTransactions)
	wallet.Post("/fund", write, h.Funding.Fund)
	wallet.Post("/fund/verify", write, h.Funding.Verify)
	wallet.Post("/withdraw", write, h.Withdrawal.Withdraw)
	wallet.Get("/withdrawals", read, h.Withdrawal.List)
	wallet.Get("/withdrawals/:id", read, h.Withdrawal.Get)
	wallet.Post("/withdrawals/:id/cancel", write, h.Withdrawal.Cancel)

	accounts := api.Group("/bank-accounts")
	accounts.Post("/", write, h.BankAccount.Add)
	accounts.Get("/", read, h.BankAccount.List)
	accounts.Put("/:id/default", write, h.BankAccount.SetDefault)

	admin := api.Group("/admin", middleware.AdminAuthMiddleware)
	admin.Get("/wallets/:userId/audit", h.Admin.AuditWallet)
	admin.Post("/bank-accounts/:id/unverify", middleware.HasPermission(models.PermissionAdmin), h.Admin.UnverifyBankAccount)
	admin.Post("/withdrawals/reconcile", h.Admin.ReconcileWithdrawals)
}
