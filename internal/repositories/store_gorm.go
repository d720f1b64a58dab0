package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kudi/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

type gormStore struct {
	db *gorm.DB
}

// NewStore returns the Postgres-backed Store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (r *gormStore) ExecuteInTransaction(ctx context.Context, fn func(Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func forUpdate() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

// Wallets

func (r *gormStore) LockWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	seed := &models.Wallet{UserID: userID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(seed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", translate(err))
	}

	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Clauses(forUpdate()).
		Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", translate(err))
	}
	return &wallet, nil
}

func (r *gormStore) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, translate(err)
	}
	return &wallet, nil
}

func (r *gormStore) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	result := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]interface{}{"balance": wallet.Balance, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update wallet: %w", translate(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ledger

func (r *gormStore) CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", translate(err))
	}
	return nil
}

func (r *gormStore) FindLedgerEntry(ctx context.Context, kind models.LedgerKind, referenceID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("kind = ? AND reference_id = ?", kind, referenceID).
		Order("id").First(&entry).Error
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (r *gormStore) ListLedgerEntries(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func (r *gormStore) SumLedgerEntries(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0)", models.DirectionCredit).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return total, nil
}

// Idempotency references

func (r *gormStore) ClaimReference(ctx context.Context, ref *models.ProcessedReference) (bool, error) {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}
	// ON CONFLICT keeps the surrounding transaction usable when the key exists.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(ref)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim reference: %w", translate(result.Error))
	}
	return result.RowsAffected == 1, nil
}

// Funding intents

func (r *gormStore) CreateFundingIntent(ctx context.Context, intent *models.FundingIntent) error {
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return fmt.Errorf("failed to create funding intent: %w", translate(err))
	}
	return nil
}

func (r *gormStore) GetFundingIntent(ctx context.Context, reference string) (*models.FundingIntent, error) {
	var intent models.FundingIntent
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&intent).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

func (r *gormStore) LockFundingIntent(ctx context.Context, reference string) (*models.FundingIntent, error) {
	var intent models.FundingIntent
	if err := r.db.WithContext(ctx).Clauses(forUpdate()).
		Where("reference = ?", reference).First(&intent).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

func (r *gormStore) SaveFundingIntent(ctx context.Context, intent *models.FundingIntent) error {
	if err := r.db.WithContext(ctx).Save(intent).Error; err != nil {
		return fmt.Errorf("failed to update funding intent: %w", translate(err))
	}
	return nil
}

func (r *gormStore) SetAuthorizationURL(ctx context.Context, reference, url string) error {
	err := r.db.WithContext(ctx).Model(&models.FundingIntent{}).
		Where("reference = ? AND status = ?", reference, models.FundingPending).
		UpdateColumn("authorization_url", url).Error
	if err != nil {
		return fmt.Errorf("failed to update authorization url: %w", err)
	}
	return nil
}

func (r *gormStore) ListPendingFundingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]models.FundingIntent, error) {
	var intents []models.FundingIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.FundingPending, createdBefore).
		Order("id").Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending funding intents: %w", err)
	}
	return intents, nil
}

// Withdrawals

func (r *gormStore) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", translate(err))
	}
	return nil
}

func (r *gormStore) GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	if err := r.db.WithContext(ctx).First(&w, id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *gormStore) GetWithdrawalByReference(ctx context.Context, reference string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *gormStore) LockWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	if err := r.db.WithContext(ctx).Clauses(forUpdate()).First(&w, id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *gormStore) SaveWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	if err := r.db.WithContext(ctx).Save(w).Error; err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", translate(err))
	}
	return nil
}

func (r *gormStore) ListWithdrawals(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, error) {
	var out []models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").Limit(limit).Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return out, nil
}

func (r *gormStore) FindWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]models.WithdrawalRequest, error) {
	q := r.db.WithContext(ctx).Model(&models.WithdrawalRequest{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", filter.UpdatedBefore)
	}
	if filter.Unrefunded {
		q = q.Where("refunded_at IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []models.WithdrawalRequest
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to find withdrawals: %w", err)
	}
	return out, nil
}

// Bank accounts

func (r *gormStore) CreateBankAccount(ctx context.Context, account *models.BankAccount) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create bank account: %w", translate(err))
	}
	return nil
}

func (r *gormStore) GetBankAccount(ctx context.Context, id uint) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *gormStore) ListBankAccounts(ctx context.Context, userID uint) ([]models.BankAccount, error) {
	var accounts []models.BankAccount
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	return accounts, nil
}

func (r *gormStore) SaveBankAccount(ctx context.Context, account *models.BankAccount) error {
	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("failed to update bank account: %w", translate(err))
	}
	return nil
}

func (r *gormStore) SetRecipientCode(ctx context.Context, id uint, code string) error {
	err := r.db.WithContext(ctx).Model(&models.BankAccount{}).
		Where("id = ? AND is_verified", id).
		UpdateColumn("recipient_code", code).Error
	if err != nil {
		return fmt.Errorf("failed to cache recipient code: %w", err)
	}
	return nil
}

func (r *gormStore) ClearDefaultBankAccount(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Model(&models.BankAccount{}).
		Where("user_id = ? AND is_default", userID).
		Update("is_default", false).Error
	if err != nil {
		return fmt.Errorf("failed to clear default bank account: %w", err)
	}
	return nil
}
