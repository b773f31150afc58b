package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "iwlicense/internal/errors"
	"iwlicense/internal/license"
	"iwlicense/internal/store"
)

// Tier and product duration tables for platforms that describe the plan
// instead of sending an explicit duration. Priority: tier, then product,
// then the one-year default.
var (
	tierDurations = map[string]int{
		"Pricing":  30,
		"Monthly":  30,
		"Yearly":   365,
		"Lifetime": 36500,
		"3-Month":  90,
		"6-Month":  180,
	}
	productDurations = map[string]int{
		"imagewave":     30,
		"daily_sub":     1,
		"monthly_sub":   30,
		"yearly_sub":    365,
		"lifetime_deal": 36500,
	}
)

const defaultDurationDays = 365

// WebhookEvent is one entry in the webhook audit log: what arrived, from
// which platform, and how it was resolved.
type WebhookEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Platform      string    `json:"platform"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	LicenseKey    string    `json:"license_key,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// WebhookHandler receives purchase and refund notifications from payment
// platforms, normalizes them, and drives the license manager. Every
// webhook is recorded in its own append-only log for replay debugging.
type WebhookHandler struct {
	manager *license.Manager
	events  *store.AuditLog[WebhookEvent]
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler. events may be nil to skip
// webhook logging.
func NewWebhookHandler(manager *license.Manager, events *store.AuditLog[WebhookEvent], logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		manager: manager,
		events:  events,
		logger:  logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the platform webhook routes.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/gumroad", h.Gumroad)
	r.Post("/stripe", h.Stripe)
	r.Post("/paddle", h.Paddle)
	r.Post("/lemonsqueezy", h.LemonSqueezy)

	return r
}

// normalized is the platform-independent view of one webhook: who bought
// (or refunded) what.
type normalized struct {
	email    string
	refund   bool
	purchase license.PurchaseInfo
}

// Gumroad handles POST /api/webhooks/gumroad. Gumroad sends classic form
// posts; refunds arrive as the same sale payload with refunded=true.
func (h *WebhookHandler) Gumroad(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "malformed form payload"))
		return
	}
	form := r.PostForm
	if len(form) == 0 {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "no data received"))
		return
	}

	tier := form.Get("variants[Tier]")
	if tier == "" {
		tier = "Lifetime"
	}
	durationDays := tierDurations[tier]
	if durationDays == 0 {
		durationDays = productDurations[form.Get("permalink")]
	}
	if durationDays == 0 {
		durationDays = defaultDurationDays
	}

	price, _ := strconv.ParseFloat(form.Get("price"), 64)
	currency := strings.ToLower(form.Get("currency"))
	if currency == "" {
		currency = "usd"
	}

	event := normalized{
		email:  form.Get("email"),
		refund: form.Get("refunded") == "true",
		purchase: license.PurchaseInfo{
			Platform:         license.PlatformGumroad,
			SourceLicenseKey: form.Get("license_key"),
			TransactionID:    form.Get("sale_id"),
			CustomerID:       form.Get("purchaser_id"),
			ProductID:        form.Get("product_id"),
			ProductName:      form.Get("product_name"),
			Tier:             tier,
			Price:            price,
			Currency:         currency,
			PurchaseDate:     form.Get("sale_timestamp"),
			DurationDays:     durationDays,
			IsRecurring:      form.Get("recurrence") == "monthly" || form.Get("subscription_id") != "",
			SubscriptionID:   form.Get("subscription_id"),
			IsDisputed:       form.Get("disputed") == "true",
			IsTest:           form.Get("test") == "true",
		},
	}

	h.process(w, r, event)
}

// stripePayload is the subset of a Stripe event the handler consumes.
type stripePayload struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			PaymentIntent string `json:"payment_intent"`
			CustomerEmail string `json:"customer_email"`
			ReceiptEmail  string `json:"receipt_email"`
			AmountTotal   int64  `json:"amount_total"`
			Currency      string `json:"currency"`
			Subscription  string `json:"subscription"`
			Metadata      struct {
				DurationDays string `json:"duration_days"`
				Tier         string `json:"tier"`
				ProductName  string `json:"product_name"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Stripe handles POST /api/webhooks/stripe.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	var payload stripePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "malformed json payload"))
		return
	}

	obj := payload.Data.Object
	email := obj.CustomerEmail
	if email == "" {
		email = obj.ReceiptEmail
	}

	durationDays, _ := strconv.Atoi(obj.Metadata.DurationDays)
	if durationDays == 0 {
		durationDays = tierDurations[obj.Metadata.Tier]
	}
	if durationDays == 0 {
		durationDays = defaultDurationDays
	}

	event := normalized{
		email:  email,
		refund: payload.Type == "charge.refunded",
		purchase: license.PurchaseInfo{
			Platform:       license.PlatformStripe,
			TransactionID:  obj.PaymentIntent,
			ProductName:    obj.Metadata.ProductName,
			Tier:           obj.Metadata.Tier,
			Price:          float64(obj.AmountTotal) / 100,
			Currency:       strings.ToLower(obj.Currency),
			DurationDays:   durationDays,
			IsRecurring:    obj.Subscription != "",
			SubscriptionID: obj.Subscription,
		},
	}

	h.process(w, r, event)
}

// paddlePayload is the subset of a Paddle alert the handler consumes.
type paddlePayload struct {
	AlertName      string `json:"alert_name"`
	OrderID        string `json:"order_id"`
	Email          string `json:"email"`
	SaleGross      string `json:"sale_gross"`
	Currency       string `json:"currency"`
	ProductName    string `json:"product_name"`
	SubscriptionID string `json:"subscription_id"`
	DurationDays   int    `json:"duration_days"`
}

// Paddle handles POST /api/webhooks/paddle.
func (h *WebhookHandler) Paddle(w http.ResponseWriter, r *http.Request) {
	var payload paddlePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "malformed json payload"))
		return
	}

	price, _ := strconv.ParseFloat(payload.SaleGross, 64)
	durationDays := payload.DurationDays
	if durationDays == 0 {
		durationDays = defaultDurationDays
	}

	event := normalized{
		email:  payload.Email,
		refund: payload.AlertName == "payment_refunded",
		purchase: license.PurchaseInfo{
			Platform:       license.PlatformPaddle,
			TransactionID:  payload.OrderID,
			ProductName:    payload.ProductName,
			Price:          price,
			Currency:       strings.ToLower(payload.Currency),
			DurationDays:   durationDays,
			IsRecurring:    payload.SubscriptionID != "",
			SubscriptionID: payload.SubscriptionID,
		},
	}

	h.process(w, r, event)
}

// lemonPayload is the subset of a Lemon Squeezy event the handler consumes.
type lemonPayload struct {
	Meta struct {
		EventName string `json:"event_name"`
	} `json:"meta"`
	Data struct {
		Attributes struct {
			OrderNumber  json.Number `json:"order_number"`
			UserEmail    string      `json:"user_email"`
			Total        int64       `json:"total"`
			Currency     string      `json:"currency"`
			ProductName  string      `json:"product_name"`
			DurationDays int         `json:"duration_days"`
		} `json:"attributes"`
	} `json:"data"`
}

// LemonSqueezy handles POST /api/webhooks/lemonsqueezy.
func (h *WebhookHandler) LemonSqueezy(w http.ResponseWriter, r *http.Request) {
	var payload lemonPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "malformed json payload"))
		return
	}

	attrs := payload.Data.Attributes
	durationDays := attrs.DurationDays
	if durationDays == 0 {
		durationDays = defaultDurationDays
	}

	event := normalized{
		email:  attrs.UserEmail,
		refund: payload.Meta.EventName == "order_refunded",
		purchase: license.PurchaseInfo{
			Platform:      license.PlatformLemonSqueezy,
			TransactionID: attrs.OrderNumber.String(),
			ProductName:   attrs.ProductName,
			Price:         float64(attrs.Total) / 100,
			Currency:      strings.ToLower(attrs.Currency),
			DurationDays:  durationDays,
		},
	}

	h.process(w, r, event)
}

// process drives the manager from a normalized webhook: refunds deactivate
// the matching license, purchases create one (converting any trial).
// Purchases replayed with a transaction id already on file return the
// existing key instead of minting a duplicate.
func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, event normalized) {
	ctx := r.Context()
	platform := event.purchase.Platform

	if event.refund {
		h.processRefund(w, r, event)
		return
	}

	if event.email == "" {
		h.record(ctx, string(platform), "error", event.purchase.TransactionID, "", "email required")
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "email required"))
		return
	}

	// Replay guard: the platform retries webhooks on timeouts.
	if event.purchase.TransactionID != "" {
		existing, found, err := h.manager.FindByPlatformID(ctx, platform, event.purchase.TransactionID)
		if err != nil {
			h.logger.ErrorContext(ctx, "webhook replay lookup failed", "error", err)
			render.Render(w, r, apierrors.ErrInternal)
			return
		}
		if found {
			h.record(ctx, string(platform), "duplicate", event.purchase.TransactionID, existing, "")
			render.JSON(w, r, map[string]any{"status": "already_processed", "license_key": existing})
			return
		}
	}

	licenseKey, err := h.manager.ConvertTrialToFull(ctx, event.email, "", event.purchase)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook purchase processing failed",
			"platform", string(platform),
			"error", err)
		h.record(ctx, string(platform), "error", event.purchase.TransactionID, "", err.Error())
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	h.record(ctx, string(platform), "success", event.purchase.TransactionID, licenseKey, "")
	render.JSON(w, r, map[string]any{"status": "success", "license_key": licenseKey})
}

// processRefund resolves the internal license for a platform refund and
// deactivates it.
func (h *WebhookHandler) processRefund(w http.ResponseWriter, r *http.Request, event normalized) {
	ctx := r.Context()
	platform := event.purchase.Platform

	licenseKey, found, err := h.manager.FindBySourceKey(ctx, event.purchase.SourceLicenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "refund lookup failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}
	if !found {
		licenseKey, found, err = h.manager.FindByPlatformID(ctx, platform, event.purchase.TransactionID)
		if err != nil {
			h.logger.ErrorContext(ctx, "refund lookup failed", "error", err)
			render.Render(w, r, apierrors.ErrInternal)
			return
		}
	}
	if !found {
		h.record(ctx, string(platform), "refund_failed", event.purchase.TransactionID, "", "license not found")
		render.Render(w, r, apierrors.New(http.StatusNotFound, "NOT_FOUND", "license not found for refund"))
		return
	}

	result, err := h.manager.HandleRefund(ctx, licenseKey, string(platform)+"_refund")
	if err != nil {
		h.logger.ErrorContext(ctx, "refund processing failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}
	if !result.Success {
		render.Status(r, apierrors.StatusForLicenseCode(result.Code))
		render.JSON(w, r, result)
		return
	}

	h.record(ctx, string(platform), "refund_processed", event.purchase.TransactionID, licenseKey, "")
	render.JSON(w, r, map[string]any{
		"status":      "refund_processed",
		"license_key": licenseKey,
		"message":     "License refunded and deactivated",
	})
}

// record appends one entry to the webhook audit log.
func (h *WebhookHandler) record(ctx context.Context, platform, status, transactionID, licenseKey, detail string) {
	if h.events == nil {
		return
	}
	err := h.events.Append(WebhookEvent{
		Timestamp:     time.Now().UTC(),
		Platform:      platform,
		Status:        status,
		TransactionID: transactionID,
		LicenseKey:    licenseKey,
		Detail:        detail,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to append webhook event",
			"platform", platform,
			"status", status,
			"error", err)
	}
}
