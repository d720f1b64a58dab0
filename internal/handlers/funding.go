package handlers

import (
	"kudi/internal/services/funding"
	"kudi/internal/utils"
	"kudi/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type FundingHandler struct {
	funding funding.Reconciler
}

func NewFundingHandler(reconciler funding.Reconciler) *FundingHandler {
	return &FundingHandler{funding: reconciler}
}

// Fund opens a checkout session for a top-up.
func (h *FundingHandler) Fund(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input validation.FundWalletRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.ValidationFailed(c, validation.FormatValidationError(err))
	}

	result, err := h.funding.Initialize(c.UserContext(), claims.UserID, claims.Email, input.Amount)
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, result)
}

// Verify is the client poll after the checkout redirect.
func (h *FundingHandler) Verify(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input validation.VerifyFundingRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request format")
	}
	if err := validation.Struct(&input); err != nil {
		return utils.ValidationFailed(c, validation.FormatValidationError(err))
	}

	result, err := h.funding.Verify(c.UserContext(), claims.UserID, input.Reference)
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, result)
}
