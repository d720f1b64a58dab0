package errors

const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeAmountMismatch    = "AMOUNT_MISMATCH"
	CodeProviderError     = "PROVIDER_ERROR"
	CodeSignatureInvalid  = "SIGNATURE_INVALID"
	CodeInvalidState      = "INVALID_STATE"
)

var (
	ErrInvalidInput = &DomainError{
		Code:    CodeInvalidInput,
		Message: "invalid input",
	}
	ErrInvalidAmount = &DomainError{
		Code:    CodeInvalidAmount,
		Message: "invalid amount",
	}
	ErrUnauthorized = &DomainError{
		Code:    CodeUnauthorized,
		Message: "unauthorized",
	}
	ErrNotFound = &DomainError{
		Code:    CodeNotFound,
		Message: "not found",
	}
	ErrInsufficientFunds = &DomainError{
		Code:    CodeInsufficientFunds,
		Message: "insufficient wallet balance",
	}
	ErrAmountMismatch = &DomainError{
		Code:    CodeAmountMismatch,
		Message: "paid amount does not match requested amount",
	}
	ErrProvider = &DomainError{
		Code:    CodeProviderError,
		Message: "payment provider error",
	}
	ErrSignatureInvalid = &DomainError{
		Code:    CodeSignatureInvalid,
		Message: "invalid signature",
	}
	ErrInvalidState = &DomainError{
		Code:    CodeInvalidState,
		Message: "operation not allowed in current state",
	}
)
