package handlers

import (
	"kudi/internal/models"
	"kudi/internal/services/ledger"
	"kudi/internal/utils"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type WalletHandler struct {
	ledger ledger.Service
}

func NewWalletHandler(ledgerSvc ledger.Service) *WalletHandler {
	return &WalletHandler{ledger: ledgerSvc}
}

// extractUserClaims is a helper function to reduce duplication
func extractUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	wallet, err := h.ledger.Balance(c.UserContext(), claims.UserID)
	if err != nil {
		return utils.Error(c, err)
	}

	return utils.Success(c, fiber.Map{
		"wallet": wallet,
	})
}

func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	page := utils.GetPagination(c, defaultPageSize, maxPageSize)
	entries, err := h.ledger.History(c.UserContext(), claims.UserID, page.Limit, page.Offset)
	if err != nil {
		return utils.Error(c, err)
	}

	return utils.Success(c, utils.NewPaginatedResponse(entries, page))
}
