// Package gateway is the HTTP client for the payment provider's backend:
// order creation and post-checkout signature verification.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"

	"chunkpay/internal/circuitbreaker"
	"chunkpay/internal/classify"
	"chunkpay/internal/model"
)

// Gateway is the collaborator surface the orchestrator depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, description string) (model.OrderDetails, error)
	VerifyPayment(ctx context.Context, token string, req VerificationRequest) (VerificationResult, error)
}

type VerificationRequest struct {
	OrderID     string `json:"orderId"`
	PaymentID   string `json:"paymentId"`
	Signature   string `json:"signature"`
	Amount      int64  `json:"amount"`
	TotalDue    int64  `json:"totalDue"`
	Description string `json:"description"`
}

type VerificationResult struct {
	Success bool   `json:"success"`
	Receipt string `json:"receipt,omitempty"`
	Message string `json:"message,omitempty"`
}

type createOrderRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type Client struct {
	http    *http.Client
	baseURL string
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(httpClient *http.Client, baseURL string, breaker *circuitbreaker.CircuitBreaker) *Client {
	slog.Info("creating gateway client", "baseURL", baseURL)
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		breaker: breaker,
	}
}

// CreateOrder asks the provider backend for a checkout order covering one
// chunk. An error body matching the amount-limit pattern comes back as
// ClassAmountLimit so the caller can split instead of failing.
func (c *Client) CreateOrder(ctx context.Context, amount int64, description string) (model.OrderDetails, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return model.OrderDetails{}, model.NewSettlementError(
			model.ClassTransport, "order endpoint circuit open", nil)
	}

	body, err := sonic.Marshal(createOrderRequest{Amount: amount, Description: description})
	if err != nil {
		return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "encode order request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "build order request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "order endpoint timed out", err)
		}
		return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "order endpoint unreachable", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		c.recordFailure()
		return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "read order response", err)
	}

	if res.StatusCode >= 500 {
		c.recordFailure()
		return model.OrderDetails{}, model.NewSettlementError(
			model.ClassTransport, "order endpoint error "+res.Status, nil)
	}
	c.recordSuccess()

	if res.StatusCode != http.StatusOK || hasErrorField(raw) {
		if classify.IsAmountLimit(raw) {
			return model.OrderDetails{}, model.NewSettlementError(
				model.ClassAmountLimit, "order amount exceeds gateway limit", nil)
		}
		return model.OrderDetails{}, model.NewSettlementError(
			model.ClassTransport, "order rejected: "+string(raw), nil)
	}

	var order model.OrderDetails
	if err := sonic.Unmarshal(raw, &order); err != nil {
		return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "malformed order response", err)
	}
	if order.OrderID == "" {
		return model.OrderDetails{}, model.NewSettlementError(model.ClassTransport, "order response missing orderId", nil)
	}
	return order, nil
}

// VerifyPayment confirms a completed checkout with the provider backend.
// Every failure here, transport included, is ClassVerificationFailed: the
// customer has already been charged, so the caller must treat the run as
// unreconciled rather than retry.
func (c *Client) VerifyPayment(ctx context.Context, token string, vr VerificationRequest) (VerificationResult, error) {
	body, err := sonic.Marshal(vr)
	if err != nil {
		return VerificationResult{}, model.NewSettlementError(model.ClassVerificationFailed, "encode verification request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return VerificationResult{}, model.NewSettlementError(model.ClassVerificationFailed, "build verification request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		return VerificationResult{}, model.NewSettlementError(model.ClassVerificationFailed, "verification endpoint unreachable", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return VerificationResult{}, model.NewSettlementError(model.ClassVerificationFailed, "read verification response", err)
	}

	var result VerificationResult
	if res.StatusCode == http.StatusOK {
		if err := sonic.Unmarshal(raw, &result); err != nil {
			return VerificationResult{}, model.NewSettlementError(model.ClassVerificationFailed, "malformed verification response", err)
		}
	}
	if res.StatusCode != http.StatusOK || !result.Success {
		slog.Error("payment verification rejected",
			"status", res.StatusCode,
			"orderId", vr.OrderID,
			"paymentId", vr.PaymentID,
		)
		return VerificationResult{}, model.NewSettlementError(
			model.ClassVerificationFailed, "backend rejected payment verification: "+string(raw), nil)
	}
	return result, nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

// hasErrorField detects the backend's soft-error shape: HTTP 200 with an
// "error" field in the body.
func hasErrorField(raw []byte) bool {
	var probe struct {
		Error any `json:"error"`
	}
	if err := sonic.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Error != nil
}
