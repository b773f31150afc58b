package license

import (
	"time"
)

// License is one paid (or trial-converted) entitlement record. Records are
// stored keyed by license key; the key itself is not repeated inside the
// record.
type License struct {
	Email           string     `json:"email"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	IsActive        bool       `json:"is_active"`
	HardwareID      string     `json:"hardware_id,omitempty"`
	DeviceName      string     `json:"device_name,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	ValidationCount int        `json:"validation_count"`

	Platform              Platform `json:"platform,omitempty"`
	PlatformTransactionID string   `json:"platform_transaction_id,omitempty"`
	SourceLicenseKey      string   `json:"source_license_key,omitempty"`

	// Legacy per-platform transaction ids. Records written before the
	// unified platform_transaction_id field carry exactly one of these.
	SaleID        string `json:"sale_id,omitempty"`        // gumroad
	PaymentIntent string `json:"payment_intent,omitempty"` // stripe
	OrderID       string `json:"order_id,omitempty"`       // paddle, lemonsqueezy
	TransactionID string `json:"transaction_id,omitempty"` // direct

	RefundedAt   *time.Time `json:"refund_at,omitempty"`
	RefundReason string     `json:"refund_reason,omitempty"`

	// Trial provenance, set on licenses created by trial conversion.
	WasTrial       bool       `json:"was_trial,omitempty"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	TrialDaysUsed  int        `json:"trial_days_used,omitempty"`
}

// legacyTransactionID returns the value of the legacy field the given
// platform used before transaction ids were unified.
func (l *License) legacyTransactionID(p Platform) string {
	switch p {
	case PlatformGumroad:
		return l.SaleID
	case PlatformStripe:
		return l.PaymentIntent
	case PlatformPaddle, PlatformLemonSqueezy:
		return l.OrderID
	case PlatformDirect:
		return l.TransactionID
	}
	return ""
}

// Expired reports whether the license has passed its expiry at the given time.
func (l *License) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Trial is a short-lived entitlement bound to a device at creation. It has
// the same shape as License plus conversion bookkeeping; trials live in
// their own store and are never mixed into the license store.
type Trial struct {
	License

	ConvertedToFull    bool       `json:"converted_to_full"`
	FullLicenseKey     string     `json:"full_license_key,omitempty"`
	ConvertedAt        *time.Time `json:"converted_at,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

// PurchaseInfo is the normalized purchase metadata reconciled from a
// payment platform payload (or supplied directly for manual issuance).
type PurchaseInfo struct {
	Platform         Platform `json:"source,omitempty"`
	SourceLicenseKey string   `json:"source_license_key,omitempty"`
	// TransactionID is the platform's unique transaction id, already
	// extracted from whatever field the platform calls it.
	TransactionID  string  `json:"transaction_id,omitempty"`
	CustomerID     string  `json:"customer_id,omitempty"`
	ProductID      string  `json:"product_id,omitempty"`
	ProductName    string  `json:"product_name,omitempty"`
	Tier           string  `json:"tier,omitempty"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency,omitempty"`
	PurchaseDate   string  `json:"purchase_date,omitempty"`
	DurationDays   int     `json:"duration_days,omitempty"`
	IsRecurring    bool    `json:"is_recurring,omitempty"`
	SubscriptionID string  `json:"subscription_id,omitempty"`
	IsTrial        bool    `json:"is_trial,omitempty"`
	IsRefunded     bool    `json:"is_refunded,omitempty"`
	IsDisputed     bool    `json:"is_disputed,omitempty"`
	IsTest         bool    `json:"is_test,omitempty"`
}

// Audit event types appended to the purchase log.
const (
	EventPurchase        = "purchase"
	EventRefund          = "refund"
	EventTrialCreated    = "trial_created"
	EventTrialConversion = "trial_conversion"
)

// PurchaseRecord is one append-only audit entry. Records are write-once:
// refunds and conversions are additional records referencing the same
// license key, never mutations of earlier entries.
type PurchaseRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	LicenseKey string    `json:"license_key"`

	PurchaseInfo

	RefundReason string `json:"refund_reason,omitempty"`
}

// Result is the uniform outcome shape operations return to the transport
// layer. Code is one of the taxonomy constants when Success is false.
type Result struct {
	Success bool   `json:"success"`
	Code    string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ok builds a successful result.
func ok(message string) Result {
	return Result{Success: true, Message: message}
}

// fail builds a failed result with a taxonomy code.
func fail(code, message string) Result {
	return Result{Success: false, Code: code, Message: message}
}

// Eligibility is the outcome of a trial eligibility check.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TrialOutcome is returned by trial creation.
type TrialOutcome struct {
	Result
	LicenseKey string    `json:"license_key,omitempty"`
	ExpiresAt  time.Time `json:"expires,omitempty"`
}

// ValidationOutcome is returned by license validation.
type ValidationOutcome struct {
	Result
	ExpiresAt   time.Time `json:"expires,omitempty"`
	IsTrial     bool      `json:"is_trial,omitempty"`
	BoundDevice string    `json:"bound_device,omitempty"`
}

// LookupOutcome is returned by the forgot-license flow.
type LookupOutcome struct {
	Result
	LicenseKey string    `json:"license_key,omitempty"`
	IsActive   bool      `json:"is_active,omitempty"`
	ExpiresAt  time.Time `json:"expires,omitempty"`
}

// Error taxonomy codes surfaced by the manager.
const (
	CodeInvalidLicense           = "invalid_license"
	CodeLicenseDeactivated       = "license_deactivated"
	CodeEmailMismatch            = "email_mismatch"
	CodeLicenseExpired           = "license_expired"
	CodeBoundToOtherDevice       = "bound_to_other_device"
	CodeTrialRequiresOnline      = "trial_requires_online"
	CodeOfflineGraceExpired      = "offline_grace_expired"
	CodeRequiresOnlineValidation = "requires_online_validation"
	CodeTrialConverted           = "trial_converted"
	CodeTrialAlreadyUsedEmail    = "trial_already_used_email"
	CodeTrialAlreadyUsedDevice   = "trial_already_used_device"
	CodeAlreadyHasLicense        = "already_has_license"
	CodeNoLicenseFound           = "no_license_found"
	CodeFailedToSave             = "failed_to_save"
)
