package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"iwlicense/internal/validation"
)

// validate is the shared struct validator for request DTOs. Field-level
// semantics (email normalization, key format, hardware id bounds) go
// through the validation package; the struct tags only cover presence.
var validate = validator.New()

// ValidateLicenseRequest is the payload for POST /api/license/validate.
type ValidateLicenseRequest struct {
	Email      string `json:"email" validate:"required"`
	LicenseKey string `json:"license_key" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
	DeviceName string `json:"device_name"`
	IsOffline  bool   `json:"is_offline"`
}

// Bind implements render.Binder.
func (req *ValidateLicenseRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email, license_key, and hardware_id are required")
	}

	result := validation.ValidateEmail(req.Email, true)
	if !result.Valid {
		return errors.New(result.Message)
	}
	req.Email = result.Normalized

	if hw := validation.ValidateHardwareID(req.HardwareID); !hw.Valid {
		return errors.New(hw.Message)
	}

	req.LicenseKey = validation.SanitizeString(req.LicenseKey, 64)
	req.DeviceName = validation.SanitizeString(req.DeviceName, 100)
	return nil
}

// TransferLicenseRequest is the payload for POST /api/license/transfer.
type TransferLicenseRequest struct {
	Email         string `json:"email" validate:"required"`
	LicenseKey    string `json:"license_key" validate:"required"`
	NewHardwareID string `json:"new_hardware_id" validate:"required"`
	NewDeviceName string `json:"new_device_name"`
}

// Bind implements render.Binder.
func (req *TransferLicenseRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email, license_key, and new_hardware_id are required")
	}

	result := validation.ValidateEmail(req.Email, true)
	if !result.Valid {
		return errors.New(result.Message)
	}
	req.Email = result.Normalized

	if hw := validation.ValidateHardwareID(req.NewHardwareID); !hw.Valid {
		return errors.New(hw.Message)
	}

	req.LicenseKey = validation.SanitizeString(req.LicenseKey, 64)
	req.NewDeviceName = validation.SanitizeString(req.NewDeviceName, 100)
	return nil
}

// ForgotLicenseRequest is the payload for POST /api/license/forgot.
type ForgotLicenseRequest struct {
	Email string `json:"email" validate:"required"`
}

// Bind implements render.Binder.
func (req *ForgotLicenseRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email is required")
	}

	result := validation.ValidateEmail(req.Email, true)
	if !result.Valid {
		return errors.New(result.Message)
	}
	req.Email = result.Normalized
	return nil
}

// TrialCreateRequest is the payload for POST /api/trial/create.
type TrialCreateRequest struct {
	Email      string `json:"email" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
	DeviceName string `json:"device_name"`
}

// Bind implements render.Binder. Trials enforce the disposable-domain
// deny-list; a throwaway inbox is the cheapest way to farm trials.
func (req *TrialCreateRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email and hardware_id are required")
	}

	result := validation.ValidateEmail(req.Email, false)
	if !result.Valid {
		return errors.New(result.Message)
	}
	req.Email = result.Normalized

	if hw := validation.ValidateHardwareID(req.HardwareID); !hw.Valid {
		return errors.New(hw.Message)
	}

	req.DeviceName = validation.SanitizeString(req.DeviceName, 100)
	return nil
}

// TrialEligibilityRequest is the payload for POST /api/trial/check-eligibility.
type TrialEligibilityRequest struct {
	Email      string `json:"email" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
}

// Bind implements render.Binder.
func (req *TrialEligibilityRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email and hardware_id are required")
	}

	result := validation.ValidateEmail(req.Email, false)
	if !result.Valid {
		return errors.New(result.Message)
	}
	req.Email = result.Normalized

	if hw := validation.ValidateHardwareID(req.HardwareID); !hw.Valid {
		return errors.New(hw.Message)
	}
	return nil
}

// OfflineCheckRequest is the payload for POST /api/license/offline-check/{key}.
type OfflineCheckRequest struct {
	Email      string `json:"email" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
}

// Bind implements render.Binder.
func (req *OfflineCheckRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email and hardware_id are required")
	}
	return nil
}

// CreateLicenseRequest is the admin payload for POST /api/admin/license.
type CreateLicenseRequest struct {
	Email            string  `json:"email" validate:"required"`
	ExpiresDays      int     `json:"expires_days"`
	LicenseKey       string  `json:"license_key"`
	Platform         string  `json:"platform"`
	TransactionID    string  `json:"transaction_id"`
	SourceLicenseKey string  `json:"source_license_key"`
	ProductName      string  `json:"product_name"`
	Tier             string  `json:"tier"`
	Price            float64 `json:"price"`
	Currency         string  `json:"currency"`
}

// Bind implements render.Binder.
func (req *CreateLicenseRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("email is required")
	}

	result := validation.ValidateEmail(req.Email, true)
	if !result.Valid {
		return errors.New(result.Message)
	}
	req.Email = result.Normalized
	return nil
}

// RefundRequest is the admin payload for POST /api/admin/refund.
type RefundRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Reason     string `json:"reason"`
}

// Bind implements render.Binder.
func (req *RefundRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("license_key is required")
	}
	req.Reason = validation.SanitizeString(req.Reason, 200)
	return nil
}

// RestoreRequest is the admin payload for POST /api/admin/backups/restore.
type RestoreRequest struct {
	BackupName string `json:"backup_name" validate:"required"`
}

// Bind implements render.Binder.
func (req *RestoreRequest) Bind(r *http.Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.New("backup_name is required")
	}
	return nil
}

// RateLimitResetRequest is the admin payload for POST /api/admin/ratelimit/reset.
type RateLimitResetRequest struct {
	Email      string `json:"email"`
	IP         string `json:"ip"`
	HardwareID string `json:"hardware_id"`
}

// Bind implements render.Binder.
func (req *RateLimitResetRequest) Bind(r *http.Request) error {
	if req.Email == "" && req.IP == "" && req.HardwareID == "" {
		return errors.New("at least one of email, ip, or hardware_id is required")
	}
	return nil
}

// StatusResponse is the payload for GET /api/status.
type StatusResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}
