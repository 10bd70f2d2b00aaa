package mpesa

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrPushRejected is returned when the gateway accepts the HTTP call
	// but rejects the push request itself (bad phone, bad amount). The
	// input was at fault; retrying the same request will not help.
	ErrPushRejected = errors.New("push request rejected by gateway")

	// ErrUnavailable is returned on transport errors and non-2xx
	// responses. The request may or may not have reached the gateway.
	ErrUnavailable = errors.New("gateway unavailable")
)

// Config holds Daraja API configuration for the push client.
type Config struct {
	ShortCode   string
	Passkey     string
	STKPushURL  string
	CallbackURL string
}

// PushResult carries the correlation ids the gateway assigns when it
// accepts a push, plus the raw response body for the audit trail.
type PushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	Raw               []byte
}

// Client issues STK push requests. It never retries; duplicate pushes are
// worse than failed ones, and the orchestrator's idempotency key is the
// retry mechanism.
type Client struct {
	tokens *TokenService
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewClient creates a push client backed by the given token service.
func NewClient(tokens *TokenService, cfg Config) *Client {
	return &Client{
		tokens: tokens,
		cfg:    cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		now: time.Now,
	}
}

// stkPushRequest represents the Daraja STK Push API request.
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// stkPushResponse represents the Daraja STK Push API response.
type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// RequestPush asks the gateway to prompt the payer's phone. phone must
// already be in canonical 254XXXXXXXXX form and amount in whole shillings;
// accountRef correlates the push with the order on gateway statements.
func (c *Client) RequestPush(ctx context.Context, phone string, amount int64, accountRef string) (*PushResult, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp),
	)

	stkReq := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            fmt.Sprintf("%d", amount),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   "Order payment",
	}

	body, err := json.Marshal(stkReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.STKPushURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	// Daraja signals rejected input with a 400-class status and an error
	// body; anything else non-2xx is infrastructure trouble.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrPushRejected, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var stkResp stkPushResponse
	if err := json.Unmarshal(respBody, &stkResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling response: %v", ErrUnavailable, err)
	}

	if stkResp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: %s", ErrPushRejected, stkResp.ResponseDescription)
	}

	return &PushResult{
		CheckoutRequestID: stkResp.CheckoutRequestID,
		MerchantRequestID: stkResp.MerchantRequestID,
		Raw:               respBody,
	}, nil
}
