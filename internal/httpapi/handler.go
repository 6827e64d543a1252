// Package httpapi exposes settlement runs over HTTP: starting a run,
// polling its progress, and relaying checkout outcomes from the browser
// back to the waiting orchestrator.
package httpapi

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"chunkpay/internal/auth"
	"chunkpay/internal/checkout"
	"chunkpay/internal/model"
	"chunkpay/internal/orchestrator"
	"chunkpay/internal/recon"
	"chunkpay/internal/storage"
)

type Handler struct {
	manager  *orchestrator.Manager
	registry *checkout.Registry
	store    *storage.RedisStore
	journal  *recon.Journal
	jwt      *auth.JWTManager
}

func NewHandler(
	manager *orchestrator.Manager,
	registry *checkout.Registry,
	store *storage.RedisStore,
	journal *recon.Journal,
	jwtManager *auth.JWTManager,
) *Handler {
	return &Handler{
		manager:  manager,
		registry: registry,
		store:    store,
		journal:  journal,
		jwt:      jwtManager,
	}
}

func (h *Handler) Register(app *fiber.App) {
	app.Use(h.requireAuth)

	app.Post("/settlements", h.StartSettlement)
	app.Get("/settlements/:id", h.Progress)
	app.Get("/settlements/:id/checkout", h.CheckoutParams)
	app.Post("/checkout/:session/success", h.CheckoutSuccess)
	app.Post("/checkout/:session/cancel", h.CheckoutCancel)
	app.Post("/checkout/:session/failure", h.CheckoutFailure)
	app.Get("/settlements-summary", h.Summary)
	app.Get("/reconciliation/pending", h.ReconciliationPending)
}

// requireAuth validates the bearer token and stashes both the claims and
// the raw token; the raw token is forwarded verbatim to the verification
// endpoint.
func (h *Handler) requireAuth(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	if header == "" {
		return fiber.NewError(fiber.StatusUnauthorized, auth.ErrMissingToken.Error())
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return fiber.NewError(fiber.StatusUnauthorized, auth.ErrInvalidToken.Error())
	}

	claims, err := h.jwt.Validate(parts[1])
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, auth.ErrInvalidToken.Error())
	}

	c.Locals("token", parts[1])
	c.Locals("userId", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *Handler) StartSettlement(c *fiber.Ctx) error {
	var req model.PaymentRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}

	token, _ := c.Locals("token").(string)
	runID, err := h.manager.Start(c.Context(), req, token)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrDuplicateRequest):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "payment already in progress"})
		case model.ClassOf(err) == model.ClassValidation:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.Error("failed to start settlement", "err", err)
			return c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"settlementId": runID})
}

func (h *Handler) Progress(c *fiber.Ctx) error {
	progress, err := h.manager.Progress(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "settlement run not found"})
	}
	return c.JSON(progress)
}

// CheckoutParams hands the browser what it needs to invoke the hosted
// checkout for the run's currently open session.
func (h *Handler) CheckoutParams(c *fiber.Ctx) error {
	progress, err := h.manager.Progress(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "settlement run not found"})
	}
	if progress.CheckoutSessionID == "" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no checkout open for this run"})
	}

	session, ok := h.registry.Get(progress.CheckoutSessionID)
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "checkout already resolved"})
	}

	return c.JSON(fiber.Map{
		"sessionId":   session.ID,
		"orderId":     session.Order.OrderID,
		"amount":      session.Order.Amount,
		"currency":    session.Order.Currency,
		"key":         session.Order.KeyID,
		"description": session.Description,
	})
}

type checkoutSuccessRequest struct {
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

func (h *Handler) CheckoutSuccess(c *fiber.Ctx) error {
	var req checkoutSuccessRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil || req.PaymentID == "" || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "paymentId and signature required"})
	}

	err := h.registry.Resolve(c.Params("session"), checkout.Outcome{
		Kind:      checkout.OutcomeCompleted,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "checkout session not found"})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) CheckoutCancel(c *fiber.Ctx) error {
	err := h.registry.Resolve(c.Params("session"), checkout.Outcome{Kind: checkout.OutcomeCancelled})
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "checkout session not found"})
	}
	return c.SendStatus(fiber.StatusOK)
}

// CheckoutFailure relays the provider's error object untouched; the
// orchestrator's classifier decides whether it is a recoverable limit
// rejection.
func (h *Handler) CheckoutFailure(c *fiber.Ctx) error {
	payload := make([]byte, len(c.Body()))
	copy(payload, c.Body())

	err := h.registry.Resolve(c.Params("session"), checkout.Outcome{
		Kind:           checkout.OutcomeFailed,
		FailurePayload: payload,
	})
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "checkout session not found"})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) Summary(c *fiber.Ctx) error {
	if h.store == nil {
		return c.SendStatus(fiber.StatusNotImplemented)
	}

	var from, to time.Time
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid from timestamp"})
		}
		from = t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid to timestamp"})
		}
		to = t
	}

	summary, err := h.store.SettledSummary(c.Context(), from, to)
	if err != nil {
		slog.Error("summary query failed", "err", err)
		return c.Status(fiber.StatusOK).JSON(storage.Summary{})
	}
	return c.JSON(summary)
}

func (h *Handler) ReconciliationPending(c *fiber.Ctx) error {
	if role, _ := c.Locals("role").(string); role != "admin" {
		return c.SendStatus(fiber.StatusForbidden)
	}
	if h.journal == nil {
		return c.SendStatus(fiber.StatusNotImplemented)
	}

	entries, err := h.journal.Pending()
	if err != nil {
		slog.Error("journal read failed", "err", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	if entries == nil {
		entries = []recon.Entry{}
	}
	return c.JSON(fiber.Map{"pending": entries})
}
