// Package validation holds the request bodies accepted by the HTTP API and
// the go-playground validator configured for them.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Amounts compare as numbers so gt/lte tags apply to them.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

type FundWalletRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type VerifyFundingRequest struct {
	Reference string `json:"reference" validate:"required,max=100"`
}

type WithdrawRequest struct {
	BankAccountID uint            `json:"bankAccountId" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type AddBankAccountRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,numeric,len=10"`
	BankCode      string `json:"bankCode" validate:"required,max=20"`
}

// Struct validates a request body.
func Struct(req interface{}) error {
	return validate.Struct(req)
}

// FormatValidationError turns validator errors into client-facing messages.
func FormatValidationError(err error) []string {
	var errs []string

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			field := e.Field()

			switch e.Tag() {
			case "required":
				errs = append(errs, fmt.Sprintf("%s is required", field))
			case "gt":
				errs = append(errs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
			case "len":
				errs = append(errs, fmt.Sprintf("%s must be exactly %s characters", field, e.Param()))
			case "max":
				errs = append(errs, fmt.Sprintf("%s must have maximum length %s", field, e.Param()))
			case "numeric":
				errs = append(errs, fmt.Sprintf("%s must contain only digits", field))
			default:
				errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
			}
		}
	}
	return errs
}
