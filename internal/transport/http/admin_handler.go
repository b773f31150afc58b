package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"iwlicense/internal/backup"
	apierrors "iwlicense/internal/errors"
	"iwlicense/internal/license"
	"iwlicense/internal/ratelimit"
)

// AdminHandler serves the operator endpoints: manual license issuance,
// refunds, audit queries, backups, and rate limit management. All routes
// sit behind the admin key middleware; the handler itself assumes the
// caller is trusted.
type AdminHandler struct {
	manager *license.Manager
	backups *backup.Manager
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(manager *license.Manager, backups *backup.Manager, limiter *ratelimit.Limiter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		manager: manager,
		backups: backups,
		limiter: limiter,
		logger:  logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the admin routes. Mount behind AdminAuth.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/license", h.CreateLicense)
	r.Get("/licenses", h.ListLicenses)
	r.Get("/trials", h.ListTrials)
	r.Get("/license/{licenseKey}", h.LicenseInfo)
	r.Get("/refund-status/{licenseKey}", h.RefundStatus)
	r.Post("/refund", h.Refund)

	r.Get("/audit/summary", h.AuditSummary)
	r.Get("/audit/disputes", h.Disputes)
	r.Get("/audit/subscriptions", h.Subscriptions)
	r.Get("/audit/history/{licenseKey}", h.PurchaseHistory)

	r.Post("/backups", h.CreateBackup)
	r.Get("/backups", h.ListBackups)
	r.Get("/backups/stats", h.BackupStats)
	r.Post("/backups/restore", h.Restore)

	r.Post("/ratelimit/reset", h.RateLimitReset)
	r.Get("/ratelimit/stats", h.RateLimitStats)

	return r
}

// CreateLicense handles POST /api/admin/license. Manual issuance for
// support cases and platforms without webhook integration.
func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &CreateLicenseRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	purchase := &license.PurchaseInfo{
		Platform:         license.ParsePlatform(req.Platform),
		TransactionID:    req.TransactionID,
		SourceLicenseKey: req.SourceLicenseKey,
		ProductName:      req.ProductName,
		Tier:             req.Tier,
		Price:            req.Price,
		Currency:         req.Currency,
		DurationDays:     req.ExpiresDays,
	}

	licenseKey, err := h.manager.CreateLicense(ctx, req.Email, time.Duration(req.ExpiresDays)*24*time.Hour, req.LicenseKey, purchase)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual license creation failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"success":     true,
		"license_key": licenseKey,
	})
}

// ListLicenses handles GET /api/admin/licenses.
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	licenses, err := h.manager.ListLicenses(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "license list failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, map[string]any{
		"count":    len(licenses),
		"licenses": licenses,
	})
}

// ListTrials handles GET /api/admin/trials.
func (h *AdminHandler) ListTrials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	trials, err := h.manager.ListTrials(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "trial list failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, map[string]any{
		"count":  len(trials),
		"trials": trials,
	})
}

// LicenseInfo handles GET /api/admin/license/{licenseKey}.
func (h *AdminHandler) LicenseInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseKey := chi.URLParam(r, "licenseKey")

	info, err := h.manager.LicenseInfo(ctx, licenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "license info failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !info.Success {
		render.Status(r, apierrors.StatusForLicenseCode(info.Code))
	}
	render.JSON(w, r, info)
}

// RefundStatus handles GET /api/admin/refund-status/{licenseKey}.
func (h *AdminHandler) RefundStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseKey := chi.URLParam(r, "licenseKey")

	status, err := h.manager.RefundStatus(ctx, licenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "refund status failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !status.Success {
		render.Status(r, apierrors.StatusForLicenseCode(status.Code))
	}
	render.JSON(w, r, status)
}

// Refund handles POST /api/admin/refund. Manual refunds for disputes
// handled outside the payment platform.
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &RefundRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	result, err := h.manager.HandleRefund(ctx, req.LicenseKey, req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual refund failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	if !result.Success {
		render.Status(r, apierrors.StatusForLicenseCode(result.Code))
	}
	render.JSON(w, r, result)
}

// AuditSummary handles GET /api/admin/audit/summary.
func (h *AdminHandler) AuditSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.manager.AuditSummary(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit summary failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, stats)
}

// Disputes handles GET /api/admin/audit/disputes.
func (h *AdminHandler) Disputes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.manager.DisputedPurchases(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "dispute query failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, map[string]any{
		"count":    len(records),
		"disputes": records,
	})
}

// Subscriptions handles GET /api/admin/audit/subscriptions.
func (h *AdminHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.manager.RecurringSubscriptions(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscription query failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, map[string]any{
		"count":         len(records),
		"subscriptions": records,
	})
}

// PurchaseHistory handles GET /api/admin/audit/history/{licenseKey}.
func (h *AdminHandler) PurchaseHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseKey := chi.URLParam(r, "licenseKey")

	records, err := h.manager.PurchaseHistory(ctx, licenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "purchase history failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, map[string]any{
		"license_key": licenseKey,
		"count":       len(records),
		"history":     records,
	})
}

// CreateBackup handles POST /api/admin/backups. Admin-triggered backups
// are tier "manual" and exempt from retention pruning.
func (h *AdminHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	manifest, err := h.backups.CreateBackup(ctx, backup.TierManual)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual backup failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, manifest)
}

// ListBackups handles GET /api/admin/backups. An optional ?type= filter
// limits the listing to one tier.
func (h *AdminHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tier := backup.Tier(r.URL.Query().Get("type"))

	manifests, err := h.backups.ListBackups(ctx, tier)
	if err != nil {
		h.logger.ErrorContext(ctx, "backup list failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, map[string]any{
		"count":   len(manifests),
		"backups": manifests,
	})
}

// BackupStats handles GET /api/admin/backups/stats.
func (h *AdminHandler) BackupStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.backups.BackupStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "backup stats failed", "error", err)
		render.Render(w, r, apierrors.ErrInternal)
		return
	}

	render.JSON(w, r, stats)
}

// Restore handles POST /api/admin/backups/restore. Restores replace the
// live data files; a safety backup is always taken first.
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &RestoreRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	report, err := h.backups.Restore(ctx, req.BackupName)
	if err != nil {
		h.logger.ErrorContext(ctx, "restore failed",
			"backup", req.BackupName,
			"error", err)
		if report != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]any{
				"success": false,
				"message": err.Error(),
				"report":  report,
			})
			return
		}
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "RESTORE_FAILED", err.Error()))
		return
	}

	render.JSON(w, r, map[string]any{
		"success": true,
		"report":  report,
	})
}

// RateLimitReset handles POST /api/admin/ratelimit/reset. Used by support
// to unblock a customer locked out by failed validation attempts.
func (h *AdminHandler) RateLimitReset(w http.ResponseWriter, r *http.Request) {
	req := &RateLimitResetRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error()))
		return
	}

	cleared := h.limiter.Reset(req.Email, req.IP, req.HardwareID)

	render.JSON(w, r, map[string]any{
		"success": true,
		"cleared": cleared,
	})
}

// RateLimitStats handles GET /api/admin/ratelimit/stats.
func (h *AdminHandler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.limiter.Stats())
}
