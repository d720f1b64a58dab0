package handlers

import (
	"kudi/internal/services/bankaccount"
	"kudi/internal/services/ledger"
	"kudi/internal/services/withdrawal"
	"kudi/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes support tooling: balance audits, account blocking
// and on-demand reconciliation.
type AdminHandler struct {
	ledger   ledger.Service
	accounts bankaccount.Service
	saga     withdrawal.Saga
}

func NewAdminHandler(ledgerSvc ledger.Service, accounts bankaccount.Service, saga withdrawal.Saga) *AdminHandler {
	return &AdminHandler{ledger: ledgerSvc, accounts: accounts, saga: saga}
}

func (h *AdminHandler) AuditWallet(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("userId")
	if err != nil || userID <= 0 {
		return utils.BadRequest(c, "Invalid user id")
	}

	result, err := h.ledger.Audit(c.UserContext(), uint(userID))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, result)
}

func (h *AdminHandler) UnverifyBankAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.BadRequest(c, "Invalid bank account id")
	}

	if err := h.accounts.Unverify(c.UserContext(), uint(id)); err != nil {
		return utils.Error(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) ReconcileWithdrawals(c *fiber.Ctx) error {
	report, err := h.saga.Reconcile(c.UserContext())
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, report)
}
