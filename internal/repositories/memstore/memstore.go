// Package memstore is an in-memory repositories.Store. Transactions are
// serialized behind one mutex and rolled back by restoring a snapshot, which
// gives the same all-or-nothing behaviour the Postgres store provides.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kudi/internal/models"
	"kudi/internal/repositories"

	"github.com/shopspring/decimal"
)

// Hooks let tests inject failures at specific write points.
type Hooks struct {
	BeforeLedgerInsert   func(entry *models.LedgerEntry) error
	BeforeWithdrawalSave func(w *models.WithdrawalRequest) error
	BeforeFundingSave    func(intent *models.FundingIntent) error
	BeforeReferenceClaim func(ref *models.ProcessedReference) error
}

type state struct {
	nextID      uint
	wallets     map[uint]models.Wallet
	ledger      []models.LedgerEntry
	references  map[string]models.ProcessedReference
	intents     map[string]models.FundingIntent
	withdrawals map[uint]models.WithdrawalRequest
	accounts    map[uint]models.BankAccount
}

func newState() *state {
	return &state{
		wallets:     make(map[uint]models.Wallet),
		references:  make(map[string]models.ProcessedReference),
		intents:     make(map[string]models.FundingIntent),
		withdrawals: make(map[uint]models.WithdrawalRequest),
		accounts:    make(map[uint]models.BankAccount),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:      s.nextID,
		wallets:     make(map[uint]models.Wallet, len(s.wallets)),
		ledger:      append([]models.LedgerEntry(nil), s.ledger...),
		references:  make(map[string]models.ProcessedReference, len(s.references)),
		intents:     make(map[string]models.FundingIntent, len(s.intents)),
		withdrawals: make(map[uint]models.WithdrawalRequest, len(s.withdrawals)),
		accounts:    make(map[uint]models.BankAccount, len(s.accounts)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	for k, v := range s.intents {
		c.intents[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	return c
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

type shared struct {
	mu    sync.Mutex
	state *state
	hooks Hooks
}

// Store implements repositories.Store.
type Store struct {
	sh   *shared
	inTx bool
}

var _ repositories.Store = (*Store)(nil)

func New() *Store {
	return &Store{sh: &shared{state: newState()}}
}

// SetHooks replaces the failure hooks.
func (s *Store) SetHooks(h Hooks) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	s.sh.hooks = h
}

func (s *Store) do(fn func(st *state) error) error {
	if s.inTx {
		return fn(s.sh.state)
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return fn(s.sh.state)
}

func (s *Store) ExecuteInTransaction(ctx context.Context, fn func(repositories.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	snapshot := s.sh.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.sh.state = snapshot
		}
	}()

	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

// Wallets

func (s *Store) LockWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	var out models.Wallet
	err := s.do(func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			now := time.Now()
			w = models.Wallet{
				ID:        st.id(),
				UserID:    userID,
				Balance:   decimal.Zero,
				Currency:  models.DefaultCurrency,
				CreatedAt: now,
				UpdatedAt: now,
			}
			st.wallets[userID] = w
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	var out models.Wallet
	err := s.do(func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			return repositories.ErrNotFound
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	return s.do(func(st *state) error {
		cur, ok := st.wallets[wallet.UserID]
		if !ok || cur.ID != wallet.ID {
			return repositories.ErrNotFound
		}
		if wallet.Balance.IsNegative() {
			return fmt.Errorf("check constraint violated: balance >= 0")
		}
		wallet.UpdatedAt = time.Now()
		st.wallets[wallet.UserID] = *wallet
		return nil
	})
}

// Ledger

func (s *Store) CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return s.do(func(st *state) error {
		if h := s.sh.hooks.BeforeLedgerInsert; h != nil {
			if err := h(entry); err != nil {
				return err
			}
		}
		entry.ID = st.id()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		st.ledger = append(st.ledger, *entry)
		return nil
	})
}

func (s *Store) FindLedgerEntry(ctx context.Context, kind models.LedgerKind, referenceID string) (*models.LedgerEntry, error) {
	var out *models.LedgerEntry
	err := s.do(func(st *state) error {
		for _, e := range st.ledger {
			if e.Kind == kind && e.ReferenceID == referenceID {
				found := e
				out = &found
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (s *Store) ListLedgerEntries(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	err := s.do(func(st *state) error {
		for i := len(st.ledger) - 1; i >= 0; i-- {
			if st.ledger[i].UserID == userID {
				out = append(out, st.ledger[i])
			}
		}
		return nil
	})
	return page(out, limit, offset), err
}

func (s *Store) SumLedgerEntries(ctx context.Context, userID uint) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.do(func(st *state) error {
		for _, e := range st.ledger {
			if e.UserID == userID {
				total = total.Add(e.Signed())
			}
		}
		return nil
	})
	return total, err
}

// Entries returns every ledger row for userID in insertion order.
func (s *Store) Entries(userID uint) []models.LedgerEntry {
	var out []models.LedgerEntry
	_ = s.do(func(st *state) error {
		for _, e := range st.ledger {
			if e.UserID == userID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out
}

// References

func (s *Store) ClaimReference(ctx context.Context, ref *models.ProcessedReference) (bool, error) {
	claimed := false
	err := s.do(func(st *state) error {
		if h := s.sh.hooks.BeforeReferenceClaim; h != nil {
			if err := h(ref); err != nil {
				return err
			}
		}
		if _, ok := st.references[ref.Reference]; ok {
			return nil
		}
		if ref.CreatedAt.IsZero() {
			ref.CreatedAt = time.Now()
		}
		st.references[ref.Reference] = *ref
		claimed = true
		return nil
	})
	return claimed, err
}

// Funding intents

func (s *Store) CreateFundingIntent(ctx context.Context, intent *models.FundingIntent) error {
	return s.do(func(st *state) error {
		if _, ok := st.intents[intent.Reference]; ok {
			return fmt.Errorf("%w: wallet_recharges.reference", repositories.ErrDuplicate)
		}
		intent.ID = st.id()
		now := time.Now()
		if intent.CreatedAt.IsZero() {
			intent.CreatedAt = now
		}
		intent.UpdatedAt = now
		if intent.Status == "" {
			intent.Status = models.FundingPending
		}
		st.intents[intent.Reference] = *intent
		return nil
	})
}

func (s *Store) GetFundingIntent(ctx context.Context, reference string) (*models.FundingIntent, error) {
	var out models.FundingIntent
	err := s.do(func(st *state) error {
		intent, ok := st.intents[reference]
		if !ok {
			return repositories.ErrNotFound
		}
		out = intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LockFundingIntent(ctx context.Context, reference string) (*models.FundingIntent, error) {
	return s.GetFundingIntent(ctx, reference)
}

func (s *Store) SaveFundingIntent(ctx context.Context, intent *models.FundingIntent) error {
	return s.do(func(st *state) error {
		if h := s.sh.hooks.BeforeFundingSave; h != nil {
			if err := h(intent); err != nil {
				return err
			}
		}
		if _, ok := st.intents[intent.Reference]; !ok {
			return repositories.ErrNotFound
		}
		intent.UpdatedAt = time.Now()
		st.intents[intent.Reference] = *intent
		return nil
	})
}

func (s *Store) SetAuthorizationURL(ctx context.Context, reference, url string) error {
	return s.do(func(st *state) error {
		intent, ok := st.intents[reference]
		if !ok || intent.Status != models.FundingPending {
			return nil
		}
		intent.AuthorizationURL = url
		st.intents[reference] = intent
		return nil
	})
}

func (s *Store) ListPendingFundingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]models.FundingIntent, error) {
	var out []models.FundingIntent
	err := s.do(func(st *state) error {
		for _, intent := range st.intents {
			if intent.Status == models.FundingPending && intent.CreatedAt.Before(createdBefore) {
				out = append(out, intent)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, 0), err
}

// Withdrawals

func (s *Store) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	return s.do(func(st *state) error {
		for _, existing := range st.withdrawals {
			if existing.Reference == w.Reference {
				return fmt.Errorf("%w: withdrawal_requests.reference", repositories.ErrDuplicate)
			}
		}
		w.ID = st.id()
		now := time.Now()
		w.CreatedAt = now
		w.UpdatedAt = now
		if w.Status == "" {
			w.Status = models.WithdrawalPending
		}
		st.withdrawals[w.ID] = *w
		return nil
	})
}

func (s *Store) GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var out models.WithdrawalRequest
	err := s.do(func(st *state) error {
		w, ok := st.withdrawals[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetWithdrawalByReference(ctx context.Context, reference string) (*models.WithdrawalRequest, error) {
	var out models.WithdrawalRequest
	err := s.do(func(st *state) error {
		for _, w := range st.withdrawals {
			if w.Reference == reference {
				out = w
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) LockWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	return s.GetWithdrawal(ctx, id)
}

func (s *Store) SaveWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	return s.do(func(st *state) error {
		if h := s.sh.hooks.BeforeWithdrawalSave; h != nil {
			if err := h(w); err != nil {
				return err
			}
		}
		if _, ok := st.withdrawals[w.ID]; !ok {
			return repositories.ErrNotFound
		}
		w.UpdatedAt = time.Now()
		st.withdrawals[w.ID] = *w
		return nil
	})
}

func (s *Store) ListWithdrawals(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, error) {
	var out []models.WithdrawalRequest
	err := s.do(func(st *state) error {
		for _, w := range st.withdrawals {
			if w.UserID == userID {
				out = append(out, w)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), err
}

func (s *Store) FindWithdrawals(ctx context.Context, filter repositories.WithdrawalFilter) ([]models.WithdrawalRequest, error) {
	var out []models.WithdrawalRequest
	err := s.do(func(st *state) error {
		for _, w := range st.withdrawals {
			if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, w.Status) {
				continue
			}
			if !filter.UpdatedBefore.IsZero() && !w.UpdatedAt.Before(filter.UpdatedBefore) {
				continue
			}
			if filter.Unrefunded && w.RefundedAt != nil {
				continue
			}
			out = append(out, w)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filter.Limit, 0), err
}

// Touch rewinds UpdatedAt on a withdrawal so sweeps treat it as stale.
func (s *Store) Touch(id uint, updatedAt time.Time) {
	_ = s.do(func(st *state) error {
		if w, ok := st.withdrawals[id]; ok {
			w.UpdatedAt = updatedAt
			st.withdrawals[id] = w
		}
		return nil
	})
}

// AgeFundingIntent rewinds CreatedAt on an intent.
func (s *Store) AgeFundingIntent(reference string, createdAt time.Time) {
	_ = s.do(func(st *state) error {
		if intent, ok := st.intents[reference]; ok {
			intent.CreatedAt = createdAt
			st.intents[reference] = intent
		}
		return nil
	})
}

func hasStatus(statuses []models.WithdrawalStatus, status models.WithdrawalStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Bank accounts

func (s *Store) CreateBankAccount(ctx context.Context, account *models.BankAccount) error {
	return s.do(func(st *state) error {
		account.ID = st.id()
		now := time.Now()
		account.CreatedAt = now
		account.UpdatedAt = now
		st.accounts[account.ID] = *account
		return nil
	})
}

func (s *Store) GetBankAccount(ctx context.Context, id uint) (*models.BankAccount, error) {
	var out models.BankAccount
	err := s.do(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListBankAccounts(ctx context.Context, userID uint) ([]models.BankAccount, error) {
	var out []models.BankAccount
	err := s.do(func(st *state) error {
		for _, a := range st.accounts {
			if a.UserID == userID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *Store) SaveBankAccount(ctx context.Context, account *models.BankAccount) error {
	return s.do(func(st *state) error {
		if _, ok := st.accounts[account.ID]; !ok {
			return repositories.ErrNotFound
		}
		account.UpdatedAt = time.Now()
		st.accounts[account.ID] = *account
		return nil
	})
}

func (s *Store) SetRecipientCode(ctx context.Context, id uint, code string) error {
	return s.do(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok || !a.IsVerified {
			return nil
		}
		a.RecipientCode = code
		st.accounts[id] = a
		return nil
	})
}

func (s *Store) ClearDefaultBankAccount(ctx context.Context, userID uint) error {
	return s.do(func(st *state) error {
		for id, a := range st.accounts {
			if a.UserID == userID && a.IsDefault {
				a.IsDefault = false
				st.accounts[id] = a
			}
		}
		return nil
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
