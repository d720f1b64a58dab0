package handlers

import (
	"kudi/internal/services/bankaccount"
	"kudi/internal/utils"
	"kudi/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type BankAccountHandler struct {
	accounts bankaccount.Service
}

func NewBankAccountHandler(accounts bankaccount.Service) *BankAccountHandler {
	return &BankAccountHandler{accounts: accounts}
}

func (h *BankAccountHandler) Add(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input validation.AddBankAccountRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.ValidationFailed(c, validation.FormatValidationError(err))
	}

	account, err := h.accounts.Add(c.UserContext(), claims.UserID, input.AccountNumber, input.BankCode)
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Created(c, fiber.Map{"bank_account": account})
}

func (h *BankAccountHandler) List(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	accounts, err := h.accounts.List(c.UserContext(), claims.UserID)
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{"bank_accounts": accounts})
}

func (h *BankAccountHandler) SetDefault(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.BadRequest(c, "Invalid bank account id")
	}

	account, err := h.accounts.SetDefault(c.UserContext(), claims.UserID, uint(id))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{"bank_account": account})
}
