package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kudi/internal/handlers"
	"kudi/internal/metrics"
	"kudi/internal/middleware"
	"kudi/internal/models"
	"kudi/internal/repositories/memstore"
	"kudi/internal/services/bankaccount"
	"kudi/internal/services/funding"
	"kudi/internal/services/gateway"
	"kudi/internal/services/gateway/gatewaytest"
	"kudi/internal/services/idempotency"
	"kudi/internal/services/ledger"
	"kudi/internal/services/withdrawal"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "routes-test"

type noDispatch struct{}

func (noDispatch) Dispatch(context.Context, uint) error { return nil }

type testServer struct {
	app    *fiber.App
	store  *memstore.Store
	ledger ledger.Service
	gw     *gatewaytest.MockClient
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	m := metrics.New()
	gw := new(gatewaytest.MockClient)
	ledgerSvc := ledger.NewService(store, nil, m)
	guard := idempotency.NewGuard(store)
	saga := withdrawal.NewSaga(store, ledgerSvc, guard, gw, noDispatch{}, withdrawal.Config{}, m)
	reconciler := funding.NewReconciler(store, ledgerSvc, guard, gw, saga, funding.Config{}, m)
	accounts := bankaccount.NewService(store, gw)

	app := fiber.New()
	SetupRoutes(app, Handlers{
		Wallet:      handlers.NewWalletHandler(ledgerSvc),
		Funding:     handlers.NewFundingHandler(reconciler),
		Withdrawal:  handlers.NewWithdrawalHandler(saga),
		BankAccount: handlers.NewBankAccountHandler(accounts),
		Webhook:     handlers.NewWebhookHandler(reconciler),
		Health:      handlers.NewHealthHandler("test", nil),
		Admin:       handlers.NewAdminHandler(ledgerSvc, accounts, saga),
		Metrics:     m.Handler(),
	}, middleware.NewAuthMiddleware(jwtSecret))

	return &testServer{app: app, store: store, ledger: ledgerSvc, gw: gw}
}

func token(t *testing.T, userID uint, role string) string {
	t.Helper()
	claims := &models.UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           userID,
		Email:            fmt.Sprintf("user%d@example.com", userID),
		Role:             role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, bearer, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *testServer) seed(t *testing.T, userID uint, amount int64) {
	t.Helper()
	_, err := s.ledger.Credit(context.Background(), userID, decimal.NewFromInt(amount), models.LedgerKindAdminAdjustment, "seed", "seed")
	require.NoError(t, err)
}

func TestRequiresToken(t *testing.T) {
	s := newServer(t)
	status, _ := s.do(t, "GET", "/api/wallet", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := s.do(t, "GET", "/health", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestFundingFlow(t *testing.T) {
	s := newServer(t)
	user := token(t, 1, "user")

	status, body := s.do(t, "POST", "/api/wallet/fund", user, `{"amount": 0}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["details"], "amount is required")

	s.gw.On("InitializeCharge", mock.Anything, mock.MatchedBy(func(r gateway.ChargeRequest) bool {
		return r.Amount == 250000 && r.Email == "user1@example.com"
	})).Return(&gateway.ChargeSession{AuthorizationURL: "https://checkout.paystack.com/abc"}, nil).Once()

	status, body = s.do(t, "POST", "/api/wallet/fund", user, `{"amount": "2500"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "https://checkout.paystack.com/abc", body["authorizationUrl"])
	reference := body["reference"].(string)

	payload := fmt.Sprintf(`{"event":"charge.success","data":{"id":99,"reference":%q,"amount":250000,"status":"success","paid_at":"2026-10-18T10:00:00Z"}}`, reference)
	s.gw.On("VerifyWebhookSignature", []byte(payload), "good").Return(true)
	s.gw.On("VerifyWebhookSignature", mock.Anything, mock.Anything).Return(false)

	req := httptest.NewRequest("POST", "/webhooks/paystack", strings.NewReader(payload))
	req.Header.Set("x-paystack-signature", "bad")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	for i := 0; i < 3; i++ {
		req = httptest.NewRequest("POST", "/webhooks/paystack", strings.NewReader(payload))
		req.Header.Set("x-paystack-signature", "good")
		resp, err = s.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	status, body = s.do(t, "GET", "/api/wallet", user, "")
	require.Equal(t, fiber.StatusOK, status)
	wallet := body["wallet"].(map[string]interface{})
	assert.Equal(t, "2500", wallet["balance"])

	// The client poll after the webhook reports the settled intent without re-crediting.
	status, body = s.do(t, "POST", "/api/wallet/fund/verify", user, fmt.Sprintf(`{"reference":%q}`, reference))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, true, body["alreadyProcessed"])

	status, body = s.do(t, "GET", "/api/wallet/transactions", user, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestWithdrawalFlow(t *testing.T) {
	s := newServer(t)
	user := token(t, 1, "user")
	s.seed(t, 1, 10000)

	s.gw.On("ResolveBankAccount", mock.Anything, "0123456789", "058").
		Return(&gateway.BankAccountDetails{AccountNumber: "0123456789", AccountName: "ADA OBI", BankCode: "058"}, nil)

	status, body := s.do(t, "POST", "/api/bank-accounts", user, `{"accountNumber":"0123456789","bankCode":"058"}`)
	require.Equal(t, fiber.StatusCreated, status)
	account := body["bank_account"].(map[string]interface{})
	accountID := uint(account["id"].(float64))
	assert.Equal(t, true, account["is_default"])

	status, _ = s.do(t, "PUT", fmt.Sprintf("/api/bank-accounts/%d/default", accountID), token(t, 2, "user"), "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = s.do(t, "POST", "/api/wallet/withdraw", user, fmt.Sprintf(`{"bankAccountId":%d,"amount":"20000"}`, accountID))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", body["code"])

	status, body = s.do(t, "POST", "/api/wallet/withdraw", user, fmt.Sprintf(`{"bankAccountId":%d,"amount":"10000"}`, accountID))
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "100", body["fee"])
	assert.Equal(t, "9900", body["netAmount"])
	id := uint(body["withdrawalId"].(float64))

	status, body = s.do(t, "GET", "/api/wallet", user, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "0", body["wallet"].(map[string]interface{})["balance"])

	status, _ = s.do(t, "GET", fmt.Sprintf("/api/wallet/withdrawals/%d", id), token(t, 2, "user"), "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = s.do(t, "POST", fmt.Sprintf("/api/wallet/withdrawals/%d/cancel", id), user, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "cancelled", body["withdrawal"].(map[string]interface{})["status"])

	status, _ = s.do(t, "POST", fmt.Sprintf("/api/wallet/withdrawals/%d/cancel", id), user, "")
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = s.do(t, "GET", "/api/wallet", user, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "10000", body["wallet"].(map[string]interface{})["balance"])

	status, body = s.do(t, "GET", "/api/wallet/withdrawals", user, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	s.seed(t, 5, 700)

	status, _ := s.do(t, "GET", "/api/admin/wallets/5/audit", token(t, 5, "user"), "")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := s.do(t, "GET", "/api/admin/wallets/5/audit", token(t, 1, "admin"), "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["consistent"])

	status, body = s.do(t, "POST", "/api/admin/withdrawals/reconcile", token(t, 1, "admin"), "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["compensated"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.seed(t, 1, 100)

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "kudi_ledger_operations_total")
}
