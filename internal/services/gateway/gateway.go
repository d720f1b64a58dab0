// Package gateway is the boundary to the card/payout provider. Amounts cross
// it as integer minor units (kobo).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRejected is a definitive refusal: retrying the same call will not succeed
	// and no money moved.
	ErrRejected = errors.New("provider rejected request")
	// ErrUnavailable means the outcome is unknown (timeout, connection reset, 5xx).
	ErrUnavailable = errors.New("provider unavailable")
	ErrNotFound    = fmt.Errorf("%w: resource not found", ErrRejected)
)

// Error carries provider context for a classified failure.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.Err, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Charge statuses reported by VerifyCharge.
const (
	ChargeSuccess    = "success"
	ChargeFailed     = "failed"
	ChargeAbandoned  = "abandoned"
	ChargeReversed   = "reversed"
	ChargePending    = "pending"
	ChargeOngoing    = "ongoing"
	ChargeProcessing = "processing"
	ChargeQueued     = "queued"
)

// Transfer statuses reported by InitiateTransfer and VerifyTransfer.
const (
	TransferSuccess  = "success"
	TransferFailed   = "failed"
	TransferReversed = "reversed"
	TransferPending  = "pending"
	TransferOTP      = "otp"
	TransferQueued   = "queued"
	TransferReceived = "received"
)

type ChargeRequest struct {
	Email       string
	Amount      int64
	Reference   string
	CallbackURL string
	Metadata    map[string]interface{}
}

type ChargeSession struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type ChargeResult struct {
	Status            string
	Reference         string
	Amount            int64
	ProviderReference string
	GatewayResponse   string
	PaidAt            time.Time
}

func (r *ChargeResult) Succeeded() bool {
	return r.Status == ChargeSuccess
}

// Definitive reports whether the charge can no longer succeed.
func (r *ChargeResult) Definitive() bool {
	switch r.Status {
	case ChargeFailed, ChargeAbandoned, ChargeReversed:
		return true
	}
	return false
}

type BankAccountDetails struct {
	AccountNumber string
	AccountName   string
	BankCode      string
}

type RecipientRequest struct {
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

type TransferRequest struct {
	Amount        int64
	RecipientCode string
	Reference     string
	Reason        string
}

type TransferResult struct {
	Status       string
	Reference    string
	TransferCode string
	Amount       int64
	Reason       string
}

func (r *TransferResult) Succeeded() bool {
	return r.Status == TransferSuccess
}

func (r *TransferResult) Failed() bool {
	return r.Status == TransferFailed || r.Status == TransferReversed
}

// Client is implemented by the Paystack client and by test doubles.
type Client interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeSession, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error)
	ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*BankAccountDetails, error)
	CreateTransferRecipient(ctx context.Context, req RecipientRequest) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	VerifyTransfer(ctx context.Context, reference string) (*TransferResult, error)
	VerifyWebhookSignature(body []byte, signature string) bool
}

// ToMinor converts a naira amount to kobo.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts kobo to naira.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// IsRejected and IsUnavailable classify errors returned by a Client.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
