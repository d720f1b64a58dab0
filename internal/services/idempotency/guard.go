// Package idempotency records which references already had their side
// effects applied. A claim is a single INSERT on the processed_references
// primary key, so concurrent claimers are arbitrated by the database.
package idempotency

import (
	"context"
	"fmt"
	"strconv"

	apperrors "kudi/internal/errors"
	"kudi/internal/models"
	"kudi/internal/repositories"
)

const (
	ScopeFunding    = "funding"
	ScopeWithdrawal = "withdrawal"
	ScopeRefund     = "refund"
)

type Guard interface {
	// ClaimReference reports true for exactly one caller per (scope, reference).
	ClaimReference(ctx context.Context, scope, reference string) (bool, error)
	// ClaimReferenceTx claims inside the caller's transaction; a rollback releases the claim.
	ClaimReferenceTx(ctx context.Context, tx repositories.Store, scope, reference string) (bool, error)
}

type guard struct {
	store repositories.ReferenceRepository
}

func NewGuard(store repositories.ReferenceRepository) Guard {
	if store == nil {
		panic("store is required")
	}
	return &guard{store: store}
}

func (g *guard) ClaimReference(ctx context.Context, scope, reference string) (bool, error) {
	return claim(ctx, g.store, scope, reference)
}

func (g *guard) ClaimReferenceTx(ctx context.Context, tx repositories.Store, scope, reference string) (bool, error) {
	return claim(ctx, tx, scope, reference)
}

func claim(ctx context.Context, repo repositories.ReferenceRepository, scope, reference string) (bool, error) {
	if scope == "" || reference == "" {
		return false, apperrors.Newf(apperrors.ErrInvalidInput, "scope and reference are required")
	}
	claimed, err := repo.ClaimReference(ctx, &models.ProcessedReference{
		Reference: Key(scope, reference),
		Scope:     scope,
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim %s reference %s: %w", scope, reference, err)
	}
	return claimed, nil
}

// Key is the stored primary key for a claim.
func Key(scope, reference string) string {
	return scope + ":" + reference
}

// RefundReference is the claim reference of a withdrawal's compensation.
func RefundReference(withdrawalID uint) string {
	return strconv.FormatUint(uint64(withdrawalID), 10)
}
