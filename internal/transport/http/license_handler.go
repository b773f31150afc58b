package http

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "iwlicense/internal/errors"
	"iwlicense/internal/license"
	"iwlicense/internal/ratelimit"
)

// LicenseHandler serves the customer-facing license and trial endpoints.
type LicenseHandler struct {
	manager *license.Manager
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(manager *license.Manager, limiter *ratelimit.Limiter, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		manager: manager,
		limiter: limiter,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the customer-facing license routes.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/validate", h.Validate)
	r.Post("/transfer", h.Transfer)
	r.Post("/forgot", h.Forgot)
	r.Post("/offline-check/{licenseKey}", h.OfflineCheck)

	return r
}

// TrialRoutes returns the customer-facing trial routes.
func (h *LicenseHandler) TrialRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/create", h.CreateTrial)
	r.Post("/check-eligibility", h.CheckEligibility)

	return r
}

// Validate handles POST /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ValidateLicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	if decision := h.limiter.Check(ratelimit.ActionLoginValidate, req.Email, clientIP(r), req.HardwareID); !decision.Allowed {
		h.renderRateLimited(w, r, decision)
		return
	}

	outcome, err := h.manager.ValidateLicense(ctx, req.Email, req.LicenseKey, req.HardwareID, req.DeviceName, req.IsOffline)
	if err != nil {
		h.logger.ErrorContext(ctx, "license validation failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !outcome.Success {
		render.Status(r, apierrors.StatusForLicenseCode(outcome.Code))
	}
	render.JSON(w, r, outcome)
}

// Transfer handles POST /api/license/transfer.
func (h *LicenseHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &TransferLicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	result, err := h.manager.TransferLicense(ctx, req.Email, req.LicenseKey, req.NewHardwareID, req.NewDeviceName)
	if err != nil {
		h.logger.ErrorContext(ctx, "license transfer failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !result.Success {
		render.Status(r, apierrors.StatusForLicenseCode(result.Code))
	}
	render.JSON(w, r, result)
}

// Forgot handles POST /api/license/forgot. The license key is never
// echoed back in the response; in production it is delivered out of band.
func (h *LicenseHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ForgotLicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	if decision := h.limiter.Check(ratelimit.ActionForgotLicense, req.Email, clientIP(r), ""); !decision.Allowed {
		h.renderRateLimited(w, r, decision)
		return
	}

	outcome, err := h.manager.FindLicenseByEmail(ctx, req.Email)
	if err != nil {
		h.logger.ErrorContext(ctx, "forgot license lookup failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !outcome.Success {
		render.Status(r, apierrors.StatusForLicenseCode(outcome.Code))
		render.JSON(w, r, outcome.Result)
		return
	}

	// Deliberately omit the key from the response body.
	render.JSON(w, r, map[string]any{
		"success": true,
		"message": "License key sent to your email",
	})
}

// CreateTrial handles POST /api/trial/create.
func (h *LicenseHandler) CreateTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &TrialCreateRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	if decision := h.limiter.Check(ratelimit.ActionTrialCreate, req.Email, clientIP(r), req.HardwareID); !decision.Allowed {
		h.renderRateLimited(w, r, decision)
		return
	}

	outcome, err := h.manager.CreateTrialLicense(ctx, req.Email, req.HardwareID, req.DeviceName)
	if err != nil {
		h.logger.ErrorContext(ctx, "trial creation failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !outcome.Success {
		render.Status(r, apierrors.StatusForLicenseCode(outcome.Code))
	} else {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, outcome)
}

// CheckEligibility handles POST /api/trial/check-eligibility. Denial is a
// 200 with eligible=false, not an error; the client uses it to decide
// which screen to show.
func (h *LicenseHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &TrialEligibilityRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	eligibility, err := h.manager.CheckTrialEligibility(ctx, req.Email, req.HardwareID)
	if err != nil {
		h.logger.ErrorContext(ctx, "trial eligibility check failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, eligibility)
}

// OfflineCheck handles POST /api/license/offline-check/{licenseKey}. It
// reports whether the client may keep running without a server round-trip
// but never mutates validation state.
func (h *LicenseHandler) OfflineCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseKey := chi.URLParam(r, "licenseKey")

	req := &OfflineCheckRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	report, err := h.manager.OfflineCheck(ctx, licenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "offline check failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}
	if !report.Success {
		render.Status(r, apierrors.StatusForLicenseCode(report.Code))
		render.JSON(w, r, report.Result)
		return
	}

	render.JSON(w, r, report)
}

// renderRateLimited renders a 429 with the retry delay in both the body
// and the Retry-After header.
func (h *LicenseHandler) renderRateLimited(w http.ResponseWriter, r *http.Request, decision ratelimit.Decision) {
	retryAfter := int(decision.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]any{
		"success":     false,
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests. Please try again later",
		"retry_after": retryAfter,
	})
}

// clientIP returns the remote address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
