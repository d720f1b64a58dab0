package paystack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kudi/internal/config"
	"kudi/internal/services/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "sk_test_123"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.PaystackConfig{
		BaseURL:   srv.URL,
		SecretKey: testSecret,
		Timeout:   2 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestInitializeCharge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+testSecret, r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(100000), body["amount"])
		assert.Equal(t, "WALLET_1_1_deadbeef", body["reference"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]string{
				"authorization_url": "https://checkout.paystack.com/abc",
				"access_code":       "abc",
				"reference":         "WALLET_1_1_deadbeef",
			},
		})
	})

	session, err := c.InitializeCharge(context.Background(), gateway.ChargeRequest{
		Email: "a@b.co", Amount: 100000, Reference: "WALLET_1_1_deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", session.AuthorizationURL)
}

func TestVerifyCharge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/WALLET_1_1_deadbeef", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"id":        4099260516,
				"status":    "success",
				"reference": "WALLET_1_1_deadbeef",
				"amount":    95000,
				"paid_at":   "2024-08-22T09:15:02.000Z",
			},
		})
	})

	result, err := c.VerifyCharge(context.Background(), "WALLET_1_1_deadbeef")
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, int64(95000), result.Amount)
	assert.Equal(t, "4099260516", result.ProviderReference)
	assert.False(t, result.PaidAt.IsZero())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        interface{}
		rejected    bool
		unavailable bool
	}{
		{name: "bad request", status: 400, body: map[string]interface{}{"status": false, "message": "Invalid key"}, rejected: true},
		{name: "status false on 200", status: 200, body: map[string]interface{}{"status": false, "message": "Transfer failed"}, rejected: true},
		{name: "not found", status: 404, body: map[string]interface{}{"status": false, "message": "Transfer not found"}, rejected: true},
		{name: "server error", status: 502, body: map[string]interface{}{"status": false}, unavailable: true},
		{name: "rate limited", status: 429, body: map[string]interface{}{"status": false}, unavailable: true},
		{name: "garbage body", status: 200, body: "not-an-envelope", unavailable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if s, ok := tt.body.(string); ok {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(s))
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.InitiateTransfer(context.Background(), gateway.TransferRequest{Amount: 990000, RecipientCode: "RCP_x", Reference: "WD_1"})
			require.Error(t, err)
			assert.Equal(t, tt.rejected, gateway.IsRejected(err), err.Error())
			assert.Equal(t, tt.unavailable, gateway.IsUnavailable(err), err.Error())
		})
	}
}

func TestTimeoutIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.InitiateTransfer(ctx, gateway.TransferRequest{Amount: 100, RecipientCode: "RCP_x", Reference: "WD_1"})
	require.Error(t, err)
	assert.True(t, gateway.IsUnavailable(err))
}

func TestTransferFlow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bank/resolve":
			assert.Equal(t, "0001234567", r.URL.Query().Get("account_number"))
			writeJSON(w, 200, map[string]interface{}{"status": true, "data": map[string]string{
				"account_number": "0001234567", "account_name": "ADA OBI",
			}})
		case "/transferrecipient":
			writeJSON(w, 201, map[string]interface{}{"status": true, "data": map[string]string{"recipient_code": "RCP_abc"}})
		case "/transfer":
			writeJSON(w, 200, map[string]interface{}{"status": true, "data": map[string]interface{}{
				"status": "otp", "reference": "WD_1", "transfer_code": "TRF_1", "amount": 990000,
			}})
		case "/transfer/verify/WD_1":
			writeJSON(w, 200, map[string]interface{}{"status": true, "data": map[string]interface{}{
				"status": "success", "reference": "WD_1", "transfer_code": "TRF_1",
			}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	details, err := c.ResolveBankAccount(ctx, "0001234567", "058")
	require.NoError(t, err)
	assert.Equal(t, "ADA OBI", details.AccountName)

	code, err := c.CreateTransferRecipient(ctx, gateway.RecipientRequest{Name: "ADA OBI", AccountNumber: "0001234567", BankCode: "058", Currency: "NGN"})
	require.NoError(t, err)
	assert.Equal(t, "RCP_abc", code)

	tr, err := c.InitiateTransfer(ctx, gateway.TransferRequest{Amount: 990000, RecipientCode: code, Reference: "WD_1"})
	require.NoError(t, err)
	assert.Equal(t, gateway.TransferOTP, tr.Status)
	assert.False(t, tr.Succeeded())
	assert.False(t, tr.Failed())

	tr, err = c.VerifyTransfer(ctx, "WD_1")
	require.NoError(t, err)
	assert.True(t, tr.Succeeded())
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := NewClient(&config.PaystackConfig{SecretKey: testSecret})
	body := []byte(`{"event":"charge.success","data":{"reference":"WALLET_1_1_deadbeef"}}`)

	assert.True(t, c.VerifyWebhookSignature(body, Sign(testSecret, body)))
	assert.False(t, c.VerifyWebhookSignature(body, Sign("other", body)))
	assert.False(t, c.VerifyWebhookSignature(append(body, ' '), Sign(testSecret, body)))
	assert.False(t, c.VerifyWebhookSignature(body, "zz-not-hex"))
	assert.False(t, c.VerifyWebhookSignature(body, ""))
}
