package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

// Phone suffixes that steer the simulated outcome.
const (
	suffixChargeCancelled = "999"
	suffixTransferReject  = "000"
	suffixTransferHang    = "408"
)

type config struct {
	Port          int    `env:"MOCK_GATEWAY_PORT" envDefault:"8081"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	CallbackDelay int    `env:"CALLBACK_DELAY_MS" envDefault:"500"`
	HangSeconds   int    `env:"HANG_SECONDS" envDefault:"30"`
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
}

type charge struct {
	RequestID   string
	Reference   string
	Phone       string
	Amount      int64
	CallbackURL string
	Result      *domain.ChargeResult
}

type gatewaySim struct {
	cfg     config
	client  *http.Client
	mu      sync.Mutex
	charges map[string]*charge
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Init("mock-gateway", "info", cfg.AppEnv)

	sim := &gatewaySim{
		cfg:     cfg,
		client:  &http.Client{Timeout: 5 * time.Second},
		charges: map[string]*charge{},
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/charges", sim.createCharge)
	r.Get("/charges/{id}", sim.chargeStatus)
	r.Post("/transfers", sim.createTransfer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("mock gateway started", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type chargeRequest struct {
	Phone       string `json:"phone"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	CallbackURL string `json:"callback_url"`
}

func (s *gatewaySim) createCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 || req.Phone == "" {
		writeJSON(w, http.StatusOK, gateway.ChargeResponse{ResponseCode: "1", ResponseDesc: "invalid charge request"})
		return
	}

	c := &charge{
		RequestID:   "ws_CO_" + randomHex(8),
		Reference:   req.Reference,
		Phone:       req.Phone,
		Amount:      req.Amount,
		CallbackURL: req.CallbackURL,
	}
	s.mu.Lock()
	s.charges[c.RequestID] = c
	s.mu.Unlock()

	slog.Info("charge accepted", "gateway_request_id", c.RequestID, "reference", c.Reference, "amount", c.Amount)
	writeJSON(w, http.StatusOK, gateway.ChargeResponse{
		GatewayRequestID: c.RequestID,
		ResponseCode:     "0",
		ResponseDesc:     "Success. Request accepted for processing",
	})

	go s.completeCharge(c)
}

func (s *gatewaySim) completeCharge(c *charge) {
	time.Sleep(time.Duration(s.cfg.CallbackDelay) * time.Millisecond)

	result := domain.ChargeResult{
		EventID:          "evt_" + randomHex(12),
		BookingID:        c.Reference,
		GatewayRequestID: c.RequestID,
		ResultCode:       0,
		ResultDesc:       "The service request is processed successfully.",
		ReceiptNumber:    strings.ToUpper(randomHex(5)),
		Amount:           c.Amount,
		Phone:            c.Phone,
		TransactionDate:  time.Now().UTC(),
	}
	if strings.HasSuffix(c.Phone, suffixChargeCancelled) {
		result.ResultCode = 1032
		result.ResultDesc = "Request cancelled by user"
		result.ReceiptNumber = ""
	}

	s.mu.Lock()
	c.Result = &result
	s.mu.Unlock()

	s.deliver(c.CallbackURL, result)
}

func (s *gatewaySim) chargeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	c, ok := s.charges[id]
	var status gateway.ChargeStatus
	if ok {
		status.GatewayRequestID = c.RequestID
		switch {
		case c.Result == nil:
			status.ResultCode = 4999
			status.ResultDesc = "The transaction is still under processing"
		default:
			status.ResultCode = c.Result.ResultCode
			status.ResultDesc = c.Result.ResultDesc
			status.ReceiptNumber = c.Result.ReceiptNumber
		}
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown gateway_request_id"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type transferRequest struct {
	Phone     string `json:"phone"`
	Amount    int64  `json:"amount"`
	Remarks   string `json:"remarks"`
	Reference string `json:"reference"`
	ResultURL string `json:"result_url"`
}

func (s *gatewaySim) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 || req.Reference == "" {
		writeJSON(w, http.StatusOK, gateway.TransferResponse{ResponseCode: "1", ResponseDesc: "invalid transfer request"})
		return
	}
	log := slog.With("reference", req.Reference, "amount", req.Amount)

	switch {
	case strings.HasSuffix(req.Phone, suffixTransferReject):
		log.Info("transfer rejected")
		writeJSON(w, http.StatusOK, gateway.TransferResponse{ResponseCode: "2001", ResponseDesc: "The initiator information is invalid"})
		return
	case strings.HasSuffix(req.Phone, suffixTransferHang):
		// Accept the money, then answer too late for the caller's timeout.
		log.Info("transfer accepted, response delayed", "seconds", s.cfg.HangSeconds)
		transferID := "B2C" + strings.ToUpper(randomHex(6))
		go s.completeTransfer(req, transferID)
		select {
		case <-time.After(time.Duration(s.cfg.HangSeconds) * time.Second):
		case <-r.Context().Done():
			return
		}
		writeJSON(w, http.StatusOK, gateway.TransferResponse{TransferID: transferID, ResponseCode: "0", ResponseDesc: "Accept the service request successfully."})
		return
	}

	transferID := "B2C" + strings.ToUpper(randomHex(6))
	log.Info("transfer accepted", "transfer_id", transferID)
	writeJSON(w, http.StatusOK, gateway.TransferResponse{
		TransferID:   transferID,
		ResponseCode: "0",
		ResponseDesc: "Accept the service request successfully.",
	})
	go s.completeTransfer(req, transferID)
}

func (s *gatewaySim) completeTransfer(req transferRequest, transferID string) {
	time.Sleep(time.Duration(s.cfg.CallbackDelay) * time.Millisecond)
	s.deliver(req.ResultURL, domain.TransferResult{
		EventID:    "evt_" + randomHex(12),
		TransferID: transferID,
		Reference:  req.Reference,
		ResultCode: 0,
		ResultDesc: "The service request is processed successfully.",
	})
}

// deliver posts a signed callback, retrying a few times like a real provider.
func (s *gatewaySim) deliver(url string, payload any) {
	if url == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal callback", "error", err)
		return
	}
	sig := gateway.Sign(body, s.cfg.WebhookSecret)

	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			slog.Error("failed to build callback", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(gateway.SignatureHeader, sig)

		resp, err := s.client.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				slog.Info("callback delivered", "url", url, "status", resp.StatusCode, "attempt", attempt)
				return
			}
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		slog.Warn("callback delivery failed", "url", url, "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
