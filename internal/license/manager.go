package license

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"iwlicense/internal/config"
	"iwlicense/internal/store"
)

// Manager owns all license and trial state transitions. Full licenses and
// trials live in separate stores; every purchase-relevant event is appended
// to the audit log. Read-modify-write cycles are serialized by mu so two
// concurrent operations never clobber each other's saves.
type Manager struct {
	licenses store.RecordStore[License]
	trials   store.RecordStore[Trial]
	audit    *store.AuditLog[PurchaseRecord]
	cfg      config.LicenseConfig
	metrics  *Metrics

	mu  sync.Mutex
	now func() time.Time
}

// NewManager creates a license manager over the given stores. metrics may
// be nil when instrumentation is not wired (CLI tools, tests).
func NewManager(licenses store.RecordStore[License], trials store.RecordStore[Trial], audit *store.AuditLog[PurchaseRecord], cfg config.LicenseConfig, metrics *Metrics) *Manager {
	return &Manager{
		licenses: licenses,
		trials:   trials,
		audit:    audit,
		cfg:      cfg,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateLicense creates a full license. When licenseKey is empty a new key
// is generated; when the key already exists the existing key is returned
// unchanged, making webhook retries idempotent. duration <= 0 falls back to
// the configured default. purchase, when present, is appended to the audit
// log after the license is saved.
func (m *Manager) CreateLicense(ctx context.Context, email string, duration time.Duration, licenseKey string, purchase *PurchaseInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	licenses, err := m.licenses.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load licenses: %w", err)
	}

	if licenseKey == "" {
		licenseKey, err = uniqueKey(m.now(), func(k string) bool { _, ok := licenses[k]; return ok })
		if err != nil {
			return "", err
		}
	} else if _, exists := licenses[licenseKey]; exists {
		m.logLicenseAction(ctx, slog.LevelWarn, "create_license", "license key already exists", licenseKey, email)
		return licenseKey, nil
	}

	if duration <= 0 {
		duration = m.cfg.DefaultDuration
	}

	now := m.now()
	lic := License{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
		IsActive:  true,
		Platform:  PlatformDirect,
	}
	if purchase != nil {
		if purchase.Platform != "" {
			lic.Platform = purchase.Platform
		}
		lic.PlatformTransactionID = purchase.TransactionID
		lic.SourceLicenseKey = purchase.SourceLicenseKey
	}

	licenses[licenseKey] = lic
	if err := m.licenses.Save(licenses); err != nil {
		return "", fmt.Errorf("failed to save licenses: %w", err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "create_license", "license created", licenseKey, email,
		slog.String("platform", string(lic.Platform)),
		slog.Time("expires_at", lic.ExpiresAt))
	m.metrics.recordCreated(ctx, lic.Platform)

	if purchase != nil {
		m.appendAudit(ctx, PurchaseRecord{
			Timestamp:    now,
			Event:        EventPurchase,
			LicenseKey:   licenseKey,
			PurchaseInfo: *purchase,
		})
	}

	return licenseKey, nil
}

// CheckTrialEligibility applies the three abuse-prevention checks in order:
// unexpired trial for the email, unexpired trial for the device, then an
// active full license for the email. The first failing check names the
// denial reason.
func (m *Manager) CheckTrialEligibility(ctx context.Context, email, hardwareID string) (Eligibility, error) {
	trials, err := m.trials.Load()
	if err != nil {
		return Eligibility{}, fmt.Errorf("failed to load trials: %w", err)
	}

	now := m.now()
	email = strings.ToLower(strings.TrimSpace(email))

	for _, trial := range trials {
		if strings.EqualFold(trial.Email, email) && now.Before(trial.ExpiresAt) {
			return Eligibility{
				Eligible: false,
				Reason:   CodeTrialAlreadyUsedEmail,
				Message:  "You have already used your free trial",
			}, nil
		}
	}

	for _, trial := range trials {
		if trial.HardwareID == hardwareID && now.Before(trial.ExpiresAt) {
			return Eligibility{
				Eligible: false,
				Reason:   CodeTrialAlreadyUsedDevice,
				Message:  "This device has already been used for a free trial",
			}, nil
		}
	}

	licenses, err := m.licenses.Load()
	if err != nil {
		return Eligibility{}, fmt.Errorf("failed to load licenses: %w", err)
	}
	for _, lic := range licenses {
		if strings.EqualFold(lic.Email, email) && lic.IsActive {
			return Eligibility{
				Eligible: false,
				Reason:   CodeAlreadyHasLicense,
				Message:  "You already have a full license. Please log in with your license key.",
			}, nil
		}
	}

	return Eligibility{Eligible: true, Message: "Eligible for a trial"}, nil
}

// CreateTrialLicense creates a trial bound to the requesting device at
// creation time. Eligibility is re-checked under the manager lock so two
// racing requests cannot both mint a trial for the same email or device.
func (m *Manager) CreateTrialLicense(ctx context.Context, email, hardwareID, deviceName string) (TrialOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligibility, err := m.CheckTrialEligibility(ctx, email, hardwareID)
	if err != nil {
		return TrialOutcome{}, err
	}
	if !eligibility.Eligible {
		m.logLicenseAction(ctx, slog.LevelWarn, "create_trial", "trial denied", "", email,
			slog.String("reason", eligibility.Reason))
		return TrialOutcome{Result: fail(eligibility.Reason, eligibility.Message)}, nil
	}

	trials, err := m.trials.Load()
	if err != nil {
		return TrialOutcome{}, fmt.Errorf("failed to load trials: %w", err)
	}

	now := m.now()
	licenseKey, err := uniqueKey(now, func(k string) bool { _, ok := trials[k]; return ok })
	if err != nil {
		return TrialOutcome{}, err
	}
	if deviceName == "" {
		deviceName = "Unknown"
	}

	expiresAt := now.Add(m.cfg.TrialDuration)
	lastValidated := now
	trials[licenseKey] = Trial{
		License: License{
			Email:           strings.ToLower(strings.TrimSpace(email)),
			CreatedAt:       now,
			ExpiresAt:       expiresAt,
			IsActive:        true,
			HardwareID:      hardwareID,
			DeviceName:      deviceName,
			LastValidatedAt: &lastValidated,
			Platform:        PlatformTrial,
		},
	}

	if err := m.trials.Save(trials); err != nil {
		return TrialOutcome{}, fmt.Errorf("failed to save trials: %w", err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "create_trial", "trial created", licenseKey, email,
		slog.String("hardware_id", hardwareID),
		slog.Time("expires_at", expiresAt))
	m.metrics.recordTrialCreated(ctx)

	m.appendAudit(ctx, PurchaseRecord{
		Timestamp:  now,
		Event:      EventTrialCreated,
		LicenseKey: licenseKey,
		PurchaseInfo: PurchaseInfo{
			Platform:     PlatformTrial,
			IsTrial:      true,
			ProductName:  "ImageWave Trial",
			Tier:         "trial",
			Price:        0,
			Currency:     "USD",
			PurchaseDate: now.Format(time.RFC3339),
		},
	})

	return TrialOutcome{
		Result:     ok("Trial license created successfully"),
		LicenseKey: licenseKey,
		ExpiresAt:  expiresAt,
	}, nil
}

// ValidateLicense validates a key against both stores. Full licenses bind
// to the first device that validates online and may run offline within the
// grace window; trials are device-bound at creation and always require an
// online check. Presenting an active full license deactivates any
// still-active trial held by the same email, even when the validation
// itself then fails.
func (m *Manager) ValidateLicense(ctx context.Context, email, licenseKey, hardwareID, deviceName string, isOffline bool) (ValidationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	licenses, err := m.licenses.Load()
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("failed to load licenses: %w", err)
	}
	trials, err := m.trials.Load()
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("failed to load trials: %w", err)
	}

	var (
		lic     License
		isTrial bool
	)
	if full, found := licenses[licenseKey]; found {
		lic = full
	} else if trial, found := trials[licenseKey]; found {
		if trial.ConvertedToFull {
			m.metrics.recordValidation(ctx, CodeTrialConverted)
			return ValidationOutcome{Result: fail(CodeTrialConverted,
				fmt.Sprintf("Your trial has been upgraded to a full license. Please use the full license key sent to %s.", email))}, nil
		}
		lic = trial.License
		isTrial = true
	} else {
		m.metrics.recordValidation(ctx, CodeInvalidLicense)
		return ValidationOutcome{Result: fail(CodeInvalidLicense, "License key not found")}, nil
	}

	if !lic.IsActive {
		m.logLicenseAction(ctx, slog.LevelWarn, "validate_license", "validation failed", licenseKey, email,
			slog.String("code", CodeLicenseDeactivated),
			slog.Bool("is_trial", isTrial),
			slog.Bool("is_offline", isOffline))
		m.metrics.recordValidation(ctx, CodeLicenseDeactivated)
		return ValidationOutcome{Result: fail(CodeLicenseDeactivated, "This license has been deactivated")}, nil
	}

	// An active full license supersedes the email's trial as soon as it
	// is presented, even when the remaining checks fail.
	if !isTrial {
		if err := m.deactivateTrialForEmailLocked(ctx, trials, email); err != nil {
			return ValidationOutcome{}, err
		}
	}

	if outcome, failed := m.checkValidation(&lic, email, hardwareID, isTrial, isOffline); failed {
		m.logLicenseAction(ctx, slog.LevelWarn, "validate_license", "validation failed", licenseKey, email,
			slog.String("code", outcome.Code),
			slog.Bool("is_trial", isTrial),
			slog.Bool("is_offline", isOffline))
		m.metrics.recordValidation(ctx, outcome.Code)
		return outcome, nil
	}

	if !isOffline {
		now := m.now()
		if lic.HardwareID == "" {
			lic.HardwareID = hardwareID
			lic.DeviceName = deviceName
			m.logLicenseAction(ctx, slog.LevelInfo, "validate_license", "license bound to device", licenseKey, email,
				slog.String("hardware_id", hardwareID))
		}
		lic.LastValidatedAt = &now
		lic.ValidationCount++

		if isTrial {
			trial := trials[licenseKey]
			trial.License = lic
			trials[licenseKey] = trial
			if err := m.trials.Save(trials); err != nil {
				return ValidationOutcome{}, fmt.Errorf("failed to save trials: %w", err)
			}
		} else {
			licenses[licenseKey] = lic
			if err := m.licenses.Save(licenses); err != nil {
				return ValidationOutcome{}, fmt.Errorf("failed to save licenses: %w", err)
			}
		}
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "validate_license", "license validated", licenseKey, email,
		slog.Bool("is_trial", isTrial),
		slog.Bool("is_offline", isOffline),
		slog.Int("validation_count", lic.ValidationCount))
	m.metrics.recordValidation(ctx, "")

	return ValidationOutcome{
		Result:    ok("License validated successfully"),
		ExpiresAt: lic.ExpiresAt,
		IsTrial:   isTrial,
	}, nil
}

// checkValidation applies the post-activity validation checks in policy
// order against one record. The caller has already verified the record is
// active. It mutates nothing; a false second return means all checks passed.
func (m *Manager) checkValidation(lic *License, email, hardwareID string, isTrial, isOffline bool) (ValidationOutcome, bool) {
	if !strings.EqualFold(lic.Email, strings.TrimSpace(email)) {
		return ValidationOutcome{Result: fail(CodeEmailMismatch, "Email does not match this license")}, true
	}

	now := m.now()
	if lic.Expired(now) {
		return ValidationOutcome{Result: fail(CodeLicenseExpired, "License has expired")}, true
	}

	if isOffline && isTrial {
		return ValidationOutcome{Result: fail(CodeTrialRequiresOnline,
			"Trial licenses require an internet connection for validation")}, true
	}

	if isOffline {
		if lic.LastValidatedAt == nil {
			return ValidationOutcome{Result: fail(CodeRequiresOnlineValidation,
				"First-time activation requires an internet connection")}, true
		}
		if now.Sub(*lic.LastValidatedAt) > m.cfg.OfflineGrace {
			return ValidationOutcome{Result: fail(CodeOfflineGraceExpired,
				"Please connect to the internet to validate your license")}, true
		}
	}

	if lic.HardwareID != "" && lic.HardwareID != hardwareID {
		boundDevice := lic.DeviceName
		if boundDevice == "" {
			boundDevice = "Unknown Device"
		}
		return ValidationOutcome{
			Result:      fail(CodeBoundToOtherDevice, "License is bound to another device"),
			BoundDevice: boundDevice,
		}, true
	}

	return ValidationOutcome{}, false
}

// deactivateTrialForEmailLocked marks the email's active trials superseded.
// The trial record stays in the store for audit; only its active flag and
// deactivation bookkeeping change. Caller holds m.mu.
func (m *Manager) deactivateTrialForEmailLocked(ctx context.Context, trials map[string]Trial, email string) error {
	now := m.now()
	changed := false

	for key, trial := range trials {
		if !strings.EqualFold(trial.Email, strings.TrimSpace(email)) || !trial.IsActive {
			continue
		}
		trial.IsActive = false
		trial.DeactivatedAt = &now
		trial.DeactivationReason = "superseded_by_full"
		trials[key] = trial
		changed = true

		m.logLicenseAction(ctx, slog.LevelInfo, "deactivate_trial", "trial superseded by full license", key, email)
	}

	if !changed {
		return nil
	}
	if err := m.trials.Save(trials); err != nil {
		return fmt.Errorf("failed to save trials: %w", err)
	}
	return nil
}

// TransferLicense rebinds a full license to a new device. Trials cannot be
// transferred; they stay bound to the original device.
func (m *Manager) TransferLicense(ctx context.Context, email, licenseKey, newHardwareID, newDeviceName string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	licenses, err := m.licenses.Load()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load licenses: %w", err)
	}

	lic, found := licenses[licenseKey]
	if !found {
		return fail(CodeInvalidLicense, "License key not found"), nil
	}
	if !strings.EqualFold(lic.Email, strings.TrimSpace(email)) {
		return fail(CodeEmailMismatch, "Email does not match this license"), nil
	}

	if newDeviceName == "" {
		newDeviceName = "Unknown"
	}

	oldDevice := lic.DeviceName
	now := m.now()
	lic.HardwareID = newHardwareID
	lic.DeviceName = newDeviceName
	lic.LastValidatedAt = &now
	licenses[licenseKey] = lic

	if err := m.licenses.Save(licenses); err != nil {
		return Result{}, fmt.Errorf("failed to save licenses: %w", err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "transfer_license", "license transferred", licenseKey, email,
		slog.String("old_device", oldDevice),
		slog.String("new_device", newDeviceName))
	m.metrics.recordTransfer(ctx)

	return ok(fmt.Sprintf("License transferred to %s", newDeviceName)), nil
}

// HandleRefund deactivates a refunded license and appends a refund record
// to the audit log. Refunding an already-refunded license is a no-op
// success so platform webhook retries stay idempotent.
func (m *Manager) HandleRefund(ctx context.Context, licenseKey, reason string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	licenses, err := m.licenses.Load()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load licenses: %w", err)
	}

	lic, found := licenses[licenseKey]
	if !found {
		return fail(CodeInvalidLicense, "License key not found"), nil
	}

	if lic.RefundedAt != nil {
		m.logLicenseAction(ctx, slog.LevelInfo, "handle_refund", "refund already processed", licenseKey, lic.Email)
		return ok("License was already refunded"), nil
	}

	if reason == "" {
		reason = "customer_request"
	}

	now := m.now()
	lic.IsActive = false
	lic.RefundedAt = &now
	lic.RefundReason = reason
	licenses[licenseKey] = lic

	if err := m.licenses.Save(licenses); err != nil {
		return Result{}, fmt.Errorf("failed to save licenses: %w", err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "handle_refund", "license refunded and deactivated", licenseKey, lic.Email,
		slog.String("reason", reason))
	m.metrics.recordRefund(ctx)

	m.appendAudit(ctx, PurchaseRecord{
		Timestamp:    now,
		Event:        EventRefund,
		LicenseKey:   licenseKey,
		RefundReason: reason,
	})

	return ok("License has been refunded and deactivated"), nil
}

// ConvertTrialToFull upgrades a trial to a full license. The trial record
// is kept, marked converted, and deactivated; the full license inherits the
// trial's device binding so the user stays activated without re-entering
// anything. Customers with no prior trial get a plain full license.
func (m *Manager) ConvertTrialToFull(ctx context.Context, email, newLicenseKey string, purchase PurchaseInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trials, err := m.trials.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load trials: %w", err)
	}
	licenses, err := m.licenses.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load licenses: %w", err)
	}

	now := m.now()
	email = strings.ToLower(strings.TrimSpace(email))

	var (
		trialKey   string
		trial      Trial
		trialFound bool
	)
	for key, t := range trials {
		if strings.EqualFold(t.Email, email) && !t.ConvertedToFull {
			trialKey, trial, trialFound = key, t, true
			break
		}
	}

	if newLicenseKey == "" {
		newLicenseKey, err = uniqueKey(now, func(k string) bool { _, ok := licenses[k]; return ok })
		if err != nil {
			return "", err
		}
	}

	trialDaysUsed := 0
	if trialFound {
		trialDaysUsed = int(now.Sub(trial.CreatedAt).Hours() / 24)

		trial.ConvertedToFull = true
		trial.FullLicenseKey = newLicenseKey
		trial.ConvertedAt = &now
		trial.IsActive = false
		trials[trialKey] = trial

		if err := m.trials.Save(trials); err != nil {
			return "", fmt.Errorf("failed to save trials: %w", err)
		}

		m.logLicenseAction(ctx, slog.LevelInfo, "convert_trial", "trial converted to full license", trialKey, email,
			slog.Int("trial_days_used", trialDaysUsed),
			slog.String("full_key_hash", hashLicenseKey(newLicenseKey)))
	} else {
		m.logInfo(ctx, "convert_trial", "no trial found, creating full license for new customer",
			slog.String("email_masked", maskEmail(email)))
	}

	duration := m.cfg.DefaultDuration
	if purchase.DurationDays > 0 {
		duration = time.Duration(purchase.DurationDays) * 24 * time.Hour
	}

	lastValidated := now
	lic := License{
		Email:                 email,
		CreatedAt:             now,
		ExpiresAt:             now.Add(duration),
		IsActive:              true,
		LastValidatedAt:       &lastValidated,
		Platform:              purchase.Platform,
		PlatformTransactionID: purchase.TransactionID,
		SourceLicenseKey:      purchase.SourceLicenseKey,
	}
	if trialFound {
		lic.HardwareID = trial.HardwareID
		lic.DeviceName = trial.DeviceName
		lic.WasTrial = true
		trialStart := trial.CreatedAt
		lic.TrialStartedAt = &trialStart
		lic.TrialDaysUsed = trialDaysUsed
	}

	licenses[newLicenseKey] = lic
	if err := m.licenses.Save(licenses); err != nil {
		return "", fmt.Errorf("failed to save licenses: %w", err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "convert_trial", "full license created", newLicenseKey, email,
		slog.Bool("was_trial", trialFound))
	m.metrics.recordCreated(ctx, purchase.Platform)
	if trialFound {
		m.metrics.recordTrialConverted(ctx)
	}

	event := EventPurchase
	if trialFound {
		event = EventTrialConversion
	}
	m.appendAudit(ctx, PurchaseRecord{
		Timestamp:    now,
		Event:        event,
		LicenseKey:   newLicenseKey,
		PurchaseInfo: purchase,
	})

	return newLicenseKey, nil
}

// FindBySourceKey resolves the internal license key issued for a payment
// platform's own license key.
func (m *Manager) FindBySourceKey(ctx context.Context, sourceLicenseKey string) (string, bool, error) {
	if sourceLicenseKey == "" {
		return "", false, nil
	}

	licenses, err := m.licenses.Load()
	if err != nil {
		return "", false, fmt.Errorf("failed to load licenses: %w", err)
	}

	for key, lic := range licenses {
		if lic.SourceLicenseKey == sourceLicenseKey {
			return key, true, nil
		}
	}
	return "", false, nil
}

// FindByPlatformID resolves the internal license key for a platform
// transaction id. The unified platform_transaction_id field is checked
// first; records written before unification are matched through the
// platform's legacy field.
func (m *Manager) FindByPlatformID(ctx context.Context, platform Platform, transactionID string) (string, bool, error) {
	if transactionID == "" {
		return "", false, nil
	}

	licenses, err := m.licenses.Load()
	if err != nil {
		return "", false, fmt.Errorf("failed to load licenses: %w", err)
	}

	for key, lic := range licenses {
		if lic.Platform == platform && lic.PlatformTransactionID == transactionID {
			return key, true, nil
		}
	}
	for key, lic := range licenses {
		if lic.legacyTransactionID(platform) == transactionID {
			return key, true, nil
		}
	}
	return "", false, nil
}

// FindLicenseByEmail looks up a customer's license key for the
// forgot-license flow. Active licenses win over inactive ones; ties break
// toward the most recently created.
func (m *Manager) FindLicenseByEmail(ctx context.Context, email string) (LookupOutcome, error) {
	licenses, err := m.licenses.Load()
	if err != nil {
		return LookupOutcome{}, fmt.Errorf("failed to load licenses: %w", err)
	}

	email = strings.ToLower(strings.TrimSpace(email))

	type match struct {
		key string
		lic License
	}
	var found []match
	for key, lic := range licenses {
		if strings.EqualFold(lic.Email, email) {
			found = append(found, match{key: key, lic: lic})
		}
	}

	if len(found) == 0 {
		return LookupOutcome{Result: fail(CodeNoLicenseFound, "No license found for this email address")}, nil
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].lic.IsActive != found[j].lic.IsActive {
			return found[i].lic.IsActive
		}
		return found[i].lic.CreatedAt.After(found[j].lic.CreatedAt)
	})
	target := found[0]

	m.logLicenseAction(ctx, slog.LevelInfo, "find_by_email", "license found for email", target.key, email)

	return LookupOutcome{
		Result:     ok("License found"),
		LicenseKey: target.key,
		IsActive:   target.lic.IsActive,
		ExpiresAt:  target.lic.ExpiresAt,
	}, nil
}

// InfoOutcome is the support/admin view of one license: the stored record
// plus its originating purchase audit entry, when one exists.
type InfoOutcome struct {
	Result
	LicenseKey string          `json:"license_key,omitempty"`
	License    *License        `json:"license,omitempty"`
	Purchase   *PurchaseRecord `json:"purchase,omitempty"`
}

// LicenseInfo returns the full stored record and the first non-refund
// audit entry for a license.
func (m *Manager) LicenseInfo(ctx context.Context, licenseKey string) (InfoOutcome, error) {
	licenses, err := m.licenses.Load()
	if err != nil {
		return InfoOutcome{}, fmt.Errorf("failed to load licenses: %w", err)
	}

	lic, found := licenses[licenseKey]
	if !found {
		return InfoOutcome{Result: fail(CodeInvalidLicense, "License key not found")}, nil
	}

	var purchase *PurchaseRecord
	if m.audit != nil {
		records, err := m.audit.Filter(func(r PurchaseRecord) bool {
			return r.LicenseKey == licenseKey && r.Event != EventRefund
		})
		if err != nil {
			m.logWarn(ctx, "license_info", "failed to read purchase audit",
				slog.String("error", err.Error()))
		} else if len(records) > 0 {
			purchase = &records[0]
		}
	}

	return InfoOutcome{
		Result:     ok("License found"),
		LicenseKey: licenseKey,
		License:    &lic,
		Purchase:   purchase,
	}, nil
}

// RefundOutcome reports whether a license has been refunded and when.
type RefundOutcome struct {
	Result
	LicenseKey   string     `json:"license_key,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsRefunded   bool       `json:"is_refunded"`
	RefundedAt   *time.Time `json:"refund_date,omitempty"`
	RefundReason string     `json:"refund_reason,omitempty"`
}

// RefundStatus reports a license's refund state. Records written before
// refund fields were stored inline fall back to the audit log.
func (m *Manager) RefundStatus(ctx context.Context, licenseKey string) (RefundOutcome, error) {
	licenses, err := m.licenses.Load()
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("failed to load licenses: %w", err)
	}

	lic, found := licenses[licenseKey]
	if !found {
		return RefundOutcome{Result: fail(CodeInvalidLicense, "License key not found")}, nil
	}

	outcome := RefundOutcome{
		Result:     ok("Refund status retrieved"),
		LicenseKey: licenseKey,
		IsActive:   lic.IsActive,
		IsRefunded: !lic.IsActive,
	}

	if lic.RefundedAt != nil {
		outcome.RefundedAt = lic.RefundedAt
		outcome.RefundReason = lic.RefundReason
		return outcome, nil
	}

	if !lic.IsActive && m.audit != nil {
		refunds, err := m.audit.Filter(func(r PurchaseRecord) bool {
			return r.LicenseKey == licenseKey && r.Event == EventRefund
		})
		if err == nil && len(refunds) > 0 {
			outcome.RefundedAt = &refunds[0].Timestamp
			outcome.RefundReason = refunds[0].RefundReason
		}
	}

	return outcome, nil
}

// OfflineReport tells a client whether it may keep running without a
// server round-trip. It is advisory: the authoritative check still happens
// on the next online validation.
type OfflineReport struct {
	Result
	CanUseOffline       bool    `json:"can_use_offline"`
	IsTrial             bool    `json:"is_trial"`
	DaysSinceValidation float64 `json:"days_since_last_validation,omitempty"`
	GraceDaysRemaining  float64 `json:"grace_period_remaining,omitempty"`
}

// OfflineCheck reports whether a license is currently inside its offline
// grace window. Trials never qualify; an unvalidated license must go
// online first. Nothing is mutated.
func (m *Manager) OfflineCheck(ctx context.Context, licenseKey string) (OfflineReport, error) {
	licenses, err := m.licenses.Load()
	if err != nil {
		return OfflineReport{}, fmt.Errorf("failed to load licenses: %w", err)
	}
	trials, err := m.trials.Load()
	if err != nil {
		return OfflineReport{}, fmt.Errorf("failed to load trials: %w", err)
	}

	if _, found := trials[licenseKey]; found {
		return OfflineReport{
			Result:  ok("Trial licenses require an internet connection"),
			IsTrial: true,
		}, nil
	}

	lic, found := licenses[licenseKey]
	if !found {
		return OfflineReport{Result: fail(CodeInvalidLicense, "License key not found")}, nil
	}

	if lic.LastValidatedAt == nil {
		return OfflineReport{
			Result: ok("License must be activated online first"),
		}, nil
	}

	since := m.now().Sub(*lic.LastValidatedAt)
	remaining := m.cfg.OfflineGrace - since
	report := OfflineReport{
		Result:              ok("Offline use available"),
		CanUseOffline:       remaining >= 0,
		DaysSinceValidation: since.Hours() / 24,
	}
	if remaining > 0 {
		report.GraceDaysRemaining = remaining.Hours() / 24
	}
	if !report.CanUseOffline {
		report.Message = "Please connect to the internet to validate your license"
	}
	return report, nil
}

// ListLicenses returns all full licenses keyed by license key (admin only).
func (m *Manager) ListLicenses(ctx context.Context) (map[string]License, error) {
	licenses, err := m.licenses.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load licenses: %w", err)
	}
	return licenses, nil
}

// ListTrials returns all trial records keyed by license key (admin only).
func (m *Manager) ListTrials(ctx context.Context) (map[string]Trial, error) {
	trials, err := m.trials.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load trials: %w", err)
	}
	return trials, nil
}

// uniqueKey generates a license key that the exists predicate rejects.
// Collisions are vanishingly rare given the random suffix; the retry bound
// only guards against a broken predicate.
func uniqueKey(now time.Time, exists func(string) bool) (string, error) {
	for i := 0; i < 10; i++ {
		key, err := GenerateKey(now)
		if err != nil {
			return "", err
		}
		if !exists(key) {
			return key, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique license key")
}

// appendAudit writes an audit record, logging rather than failing the
// operation when the append cannot complete. The license mutation has
// already been persisted at this point; losing the audit line is preferred
// over failing a paid customer's activation.
func (m *Manager) appendAudit(ctx context.Context, record PurchaseRecord) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Append(record); err != nil {
		m.logError(ctx, "audit_append", "failed to append purchase audit record",
			slog.String("event", record.Event),
			slog.String("license_key_hash", hashLicenseKey(record.LicenseKey)),
			slog.String("error", err.Error()))
	}
}
