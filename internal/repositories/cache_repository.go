package repositories

import (
	"context"

	"kudi/internal/models"
)

// CacheRepository is the read-through balance cache. A miss is (nil, nil).
type CacheRepository interface {
	GetWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	// WalletGeneration is read before loading the wallet from the database.
	// SetWallet stores nothing when an invalidation happened in between.
	WalletGeneration(ctx context.Context, userID uint) (int64, error)
	SetWallet(ctx context.Context, wallet *models.Wallet, generation int64) error
	InvalidateWallet(ctx context.Context, userID uint) error
}
