package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

const successCode = "0"

type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	ChargeCallbackURL string
	TransferResultURL string
	CountryCode       string
}

// Client talks to the mobile-money provider over its JSON API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "256"
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type ChargeRequest struct {
	Phone       string
	Amount      int64
	Reference   string
	Description string
}

type ChargeResponse struct {
	GatewayRequestID string `json:"gateway_request_id"`
	ResponseCode     string `json:"response_code"`
	ResponseDesc     string `json:"response_desc"`
}

type ChargeStatus struct {
	GatewayRequestID string `json:"gateway_request_id"`
	ResultCode       int    `json:"result_code"`
	ResultDesc       string `json:"result_desc"`
	ReceiptNumber    string `json:"receipt_number,omitempty"`
}

func (s ChargeStatus) Succeeded() bool { return s.ResultCode == 0 }

type TransferRequest struct {
	Phone     string
	Amount    int64
	Remarks   string
	Reference string
}

type TransferResponse struct {
	TransferID   string `json:"transfer_id"`
	ResponseCode string `json:"response_code"`
	ResponseDesc string `json:"response_desc"`
}

type chargePayload struct {
	Phone       string `json:"phone"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	CallbackURL string `json:"callback_url"`
}

type transferPayload struct {
	Phone     string `json:"phone"`
	Amount    int64  `json:"amount"`
	Remarks   string `json:"remarks"`
	Reference string `json:"reference"`
	ResultURL string `json:"result_url"`
}

func (c *Client) InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	var resp ChargeResponse
	err := c.do(ctx, http.MethodPost, "/charges", chargePayload{
		Phone:       c.NormalizePhone(req.Phone),
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
		CallbackURL: c.cfg.ChargeCallbackURL,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("InitiateCharge: %w", err)
	}
	if resp.ResponseCode != successCode {
		return nil, fmt.Errorf("InitiateCharge: code %s: %s: %w", resp.ResponseCode, resp.ResponseDesc, domain.ErrGateway)
	}
	return &resp, nil
}

func (c *Client) QueryChargeStatus(ctx context.Context, gatewayRequestID string) (*ChargeStatus, error) {
	var resp ChargeStatus
	err := c.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(gatewayRequestID), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("QueryChargeStatus: %w", err)
	}
	return &resp, nil
}

// SendTransfer pays out to a phone number. A timeout, or a 2xx reply that
// cannot be read, surfaces as ErrGatewayTimeout: the transfer may or may not
// have happened.
func (c *Client) SendTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	var resp TransferResponse
	err := c.do(ctx, http.MethodPost, "/transfers", transferPayload{
		Phone:     c.NormalizePhone(req.Phone),
		Amount:    req.Amount,
		Remarks:   req.Remarks,
		Reference: req.Reference,
		ResultURL: c.cfg.TransferResultURL,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("SendTransfer: %w", err)
	}
	if resp.ResponseCode != successCode {
		return nil, fmt.Errorf("SendTransfer: code %s: %s: %w", resp.ResponseCode, resp.ResponseDesc, domain.ErrGateway)
	}
	return &resp, nil
}

// NormalizePhone strips formatting and rewrites a local 0-prefixed number to
// the international form the provider expects.
func (c *Client) NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		return c.cfg.CountryCode + digits[1:]
	}
	return digits
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	log := logging.FromContext(ctx)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	log.Info("gateway request sent", "method", method, "path", path)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isIndeterminate(err) {
			log.Warn("gateway request timed out", "path", path, "duration_ms", time.Since(start).Milliseconds())
			return fmt.Errorf("send: %v: %w", err, domain.ErrGatewayTimeout)
		}
		return fmt.Errorf("send: %v: %w", err, domain.ErrGateway)
	}
	defer resp.Body.Close()

	log.Info("gateway response received",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	accepted := resp.StatusCode >= 200 && resp.StatusCode < 300

	// Once the provider has answered 2xx the request was taken, so an unreadable
	// reply leaves the outcome unknown rather than rejected.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if accepted {
			log.Warn("gateway reply unreadable", "path", path, "error", err)
			return fmt.Errorf("read body: %v: %w", err, domain.ErrGatewayTimeout)
		}
		return fmt.Errorf("read body: %v: %w", err, domain.ErrGateway)
	}

	if !accepted {
		snippet := respBody
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return fmt.Errorf("unexpected status %d: %s: %w", resp.StatusCode, string(snippet), domain.ErrGateway)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		log.Warn("gateway reply undecodable", "path", path, "error", err)
		return fmt.Errorf("decode response: %v: %w", err, domain.ErrGatewayTimeout)
	}
	return nil
}

// isIndeterminate is true when the request may have reached the provider
// without an answer coming back.
func isIndeterminate(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
