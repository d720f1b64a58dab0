// Package paystack implements gateway.Client against the Paystack REST API.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kudi/internal/config"
	"kudi/internal/services/gateway"
)

const (
	DefaultBaseURL  = "https://api.paystack.co"
	SignatureHeader = "x-paystack-signature"
)

type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	http        *http.Client
}

var _ gateway.Client = (*Client)(nil)

func NewClient(cfg *config.PaystackConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		http:        &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &gateway.Error{Op: op, Message: err.Error(), Err: gateway.ErrUnavailable}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: err.Error(), Err: gateway.ErrUnavailable}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message, Err: gateway.ErrUnavailable}
	case resp.StatusCode == http.StatusNotFound:
		return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message, Err: gateway.ErrNotFound}
	case resp.StatusCode >= 400:
		return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message, Err: gateway.ErrRejected}
	}

	if decodeErr != nil {
		// 2xx with an unreadable body: the call may have taken effect.
		return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: gateway.ErrUnavailable}
	}
	if !env.Status {
		return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message, Err: gateway.ErrRejected}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &gateway.Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed data", Err: gateway.ErrUnavailable}
		}
	}
	return nil
}

func (c *Client) InitializeCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeSession, error) {
	callback := req.CallbackURL
	if callback == "" {
		callback = c.callbackURL
	}
	body := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.Amount,
		"reference": req.Reference,
	}
	if callback != "" {
		body["callback_url"] = callback
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := c.do(ctx, "initialize charge", http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	return &gateway.ChargeSession{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

type chargeData struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
}

func (d chargeData) result() *gateway.ChargeResult {
	r := &gateway.ChargeResult{
		Status:          d.Status,
		Reference:       d.Reference,
		Amount:          d.Amount,
		GatewayResponse: d.GatewayResponse,
	}
	if d.ID != 0 {
		r.ProviderReference = fmt.Sprintf("%d", d.ID)
	}
	if t, err := time.Parse(time.RFC3339, d.PaidAt); err == nil {
		r.PaidAt = t
	}
	return r
}

func (c *Client) VerifyCharge(ctx context.Context, reference string) (*gateway.ChargeResult, error) {
	var data chargeData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify charge", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

func (c *Client) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.BankAccountDetails, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var data struct {
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
	}
	if err := c.do(ctx, "resolve account", http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return nil, err
	}
	return &gateway.BankAccountDetails{
		AccountNumber: data.AccountNumber,
		AccountName:   data.AccountName,
		BankCode:      bankCode,
	}, nil
}

func (c *Client) CreateTransferRecipient(ctx context.Context, req gateway.RecipientRequest) (string, error) {
	body := map[string]interface{}{
		"type":           "nuban",
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.do(ctx, "create recipient", http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", &gateway.Error{Op: "create recipient", Message: "empty recipient code", Err: gateway.ErrRejected}
	}
	return data.RecipientCode, nil
}

type transferData struct {
	Status       string `json:"status"`
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
}

func (d transferData) result() *gateway.TransferResult {
	return &gateway.TransferResult{
		Status:       d.Status,
		Reference:    d.Reference,
		TransferCode: d.TransferCode,
		Amount:       d.Amount,
		Reason:       d.Reason,
	}
}

func (c *Client) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    req.Amount,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	var data transferData
	if err := c.do(ctx, "initiate transfer", http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

func (c *Client) VerifyTransfer(ctx context.Context, reference string) (*gateway.TransferResult, error) {
	var data transferData
	path := "/transfer/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify transfer", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.result(), nil
}

// VerifyWebhookSignature checks the hex HMAC-SHA512 of body keyed by the secret.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	return VerifySignature(c.secretKey, body, signature)
}

func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns the signature Paystack would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
