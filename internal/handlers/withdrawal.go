package handlers

import (
	"kudi/internal/services/withdrawal"
	"kudi/internal/utils"
	"kudi/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type WithdrawalHandler struct {
	saga withdrawal.Saga
}

func NewWithdrawalHandler(saga withdrawal.Saga) *WithdrawalHandler {
	return &WithdrawalHandler{saga: saga}
}

func (h *WithdrawalHandler) Withdraw(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input validation.WithdrawRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.ValidationFailed(c, validation.FormatValidationError(err))
	}

	result, err := h.saga.Request(c.UserContext(), claims.UserID, input.BankAccountID, input.Amount)
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Created(c, result)
}

func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	page := utils.GetPagination(c, defaultPageSize, maxPageSize)
	list, err := h.saga.List(c.UserContext(), claims.UserID, page.Limit, page.Offset)
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, utils.NewPaginatedResponse(list, page))
}

func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.BadRequest(c, "Invalid withdrawal id")
	}

	w, err := h.saga.Get(c.UserContext(), claims.UserID, uint(id))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{"withdrawal": w})
}

func (h *WithdrawalHandler) Cancel(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.BadRequest(c, "Invalid withdrawal id")
	}

	w, err := h.saga.Cancel(c.UserContext(), claims.UserID, uint(id))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{"withdrawal": w})
}
