// Package gatewaytest provides a testify mock of gateway.Client.
package gatewaytest

import (
	"context"

	"kudi/internal/services/gateway"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

var _ gateway.Client = (*MockClient)(nil)

func (m *MockClient) InitializeCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ChargeSession), args.Error(1)
}

func (m *MockClient) VerifyCharge(ctx context.Context, reference string) (*gateway.ChargeResult, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ChargeResult), args.Error(1)
}

func (m *MockClient) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.BankAccountDetails, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.BankAccountDetails), args.Error(1)
}

func (m *MockClient) CreateTransferRecipient(ctx context.Context, req gateway.RecipientRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockClient) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferResult), args.Error(1)
}

func (m *MockClient) VerifyTransfer(ctx context.Context, reference string) (*gateway.TransferResult, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferResult), args.Error(1)
}

func (m *MockClient) VerifyWebhookSignature(body []byte, signature string) bool {
	args := m.Called(body, signature)
	return args.Bool(0)
}
