package license

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iwlicense/internal/config"
	"iwlicense/internal/store"
)

type managerFixture struct {
	manager  *Manager
	licenses *store.MemStore[License]
	trials   *store.MemStore[Trial]
	audit    *store.AuditLog[PurchaseRecord]
	clock    *time.Time
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	licenses := store.NewMemStore[License]()
	trials := store.NewMemStore[Trial]()
	audit := store.NewAuditLog[PurchaseRecord](filepath.Join(t.TempDir(), "purchases.jsonl"), nil)

	cfg := config.LicenseConfig{
		TrialDuration:   7 * 24 * time.Hour,
		OfflineGrace:    72 * time.Hour,
		DefaultDuration: 365 * 24 * time.Hour,
	}

	m := NewManager(licenses, trials, audit, cfg, nil)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	return &managerFixture{manager: m, licenses: licenses, trials: trials, audit: audit, clock: &now}
}

func (f *managerFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestCreateLicense(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "Alice@Example.com", 0, "", &PurchaseInfo{
		Platform:      PlatformGumroad,
		TransactionID: "sale-123",
		Price:         49.0,
		Currency:      "USD",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "IW-"), "key should carry issuer prefix: %s", key)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic, found := licenses[key]
	require.True(t, found)
	assert.Equal(t, "alice@example.com", lic.Email, "email should be normalized")
	assert.True(t, lic.IsActive)
	assert.Equal(t, PlatformGumroad, lic.Platform)
	assert.Equal(t, "sale-123", lic.PlatformTransactionID)
	assert.Equal(t, f.clock.Add(365*24*time.Hour), lic.ExpiresAt, "default duration applies when zero")
	assert.Empty(t, lic.HardwareID, "full license is unbound until first validation")

	records, err := f.audit.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, EventPurchase, records[0].Event)
	assert.Equal(t, key, records[0].LicenseKey)
	assert.Equal(t, 49.0, records[0].Price)
}

func TestCreateLicense_ExistingKeyIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "IW-111111-AAAABBBB", nil)
	require.NoError(t, err)

	again, err := f.manager.CreateLicense(ctx, "other@x.com", 0, "IW-111111-AAAABBBB", nil)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", licenses[key].Email, "existing record must not be overwritten")
}

func TestCreateLicense_NoPurchaseDefaultsToDirect(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Equal(t, PlatformDirect, licenses[key].Platform, "manual issuance records the direct platform")
}

func TestCheckTrialEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh email and device is eligible", func(t *testing.T) {
		f := newManagerFixture(t)
		elig, err := f.manager.CheckTrialEligibility(ctx, "new@x.com", "hw-new")
		require.NoError(t, err)
		assert.True(t, elig.Eligible)
	})

	t.Run("unexpired trial for email denies", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.manager.CreateTrialLicense(ctx, "b@x.com", "hw-1", "Laptop")
		require.NoError(t, err)

		elig, err := f.manager.CheckTrialEligibility(ctx, "b@x.com", "hw-other")
		require.NoError(t, err)
		assert.False(t, elig.Eligible)
		assert.Equal(t, CodeTrialAlreadyUsedEmail, elig.Reason)
	})

	t.Run("unexpired trial for device denies other email", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.manager.CreateTrialLicense(ctx, "b@x.com", "hw-1", "Laptop")
		require.NoError(t, err)

		elig, err := f.manager.CheckTrialEligibility(ctx, "c@x.com", "hw-1")
		require.NoError(t, err)
		assert.False(t, elig.Eligible)
		assert.Equal(t, CodeTrialAlreadyUsedDevice, elig.Reason)
	})

	t.Run("expired trial frees both email and device", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.manager.CreateTrialLicense(ctx, "b@x.com", "hw-1", "Laptop")
		require.NoError(t, err)

		f.advance(8 * 24 * time.Hour)

		elig, err := f.manager.CheckTrialEligibility(ctx, "b@x.com", "hw-1")
		require.NoError(t, err)
		assert.True(t, elig.Eligible)
	})

	t.Run("active full license denies", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.manager.CreateLicense(ctx, "paid@x.com", 0, "", nil)
		require.NoError(t, err)

		elig, err := f.manager.CheckTrialEligibility(ctx, "paid@x.com", "hw-1")
		require.NoError(t, err)
		assert.False(t, elig.Eligible)
		assert.Equal(t, CodeAlreadyHasLicense, elig.Reason)
	})

	t.Run("refunded full license does not deny", func(t *testing.T) {
		f := newManagerFixture(t)
		key, err := f.manager.CreateLicense(ctx, "paid@x.com", 0, "", nil)
		require.NoError(t, err)
		_, err = f.manager.HandleRefund(ctx, key, "customer_request")
		require.NoError(t, err)

		elig, err := f.manager.CheckTrialEligibility(ctx, "paid@x.com", "hw-1")
		require.NoError(t, err)
		assert.True(t, elig.Eligible)
	})
}

func TestCreateTrialLicense(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	outcome, err := f.manager.CreateTrialLicense(ctx, "Trial@X.com", "hw-trial", "Desktop")
	require.NoError(t, err)
	require.True(t, outcome.Success, "unexpected denial: %s", outcome.Code)
	assert.Equal(t, f.clock.Add(7*24*time.Hour), outcome.ExpiresAt)

	trials, err := f.trials.Load()
	require.NoError(t, err)
	trial, found := trials[outcome.LicenseKey]
	require.True(t, found)
	assert.Equal(t, "trial@x.com", trial.Email)
	assert.Equal(t, "hw-trial", trial.HardwareID, "trial binds to device at creation")
	assert.Equal(t, "Desktop", trial.DeviceName)
	assert.True(t, trial.IsActive)
	assert.False(t, trial.ConvertedToFull)
	require.NotNil(t, trial.LastValidatedAt)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Empty(t, licenses, "trials never land in the license store")

	records, err := f.audit.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, EventTrialCreated, records[0].Event)
	assert.True(t, records[0].IsTrial)

	// The same email or device cannot mint a second trial while the first
	// is unexpired.
	denied, err := f.manager.CreateTrialLicense(ctx, "trial@x.com", "hw-other", "Other")
	require.NoError(t, err)
	assert.False(t, denied.Success)
	assert.Equal(t, CodeTrialAlreadyUsedEmail, denied.Code)

	denied, err = f.manager.CreateTrialLicense(ctx, "other@x.com", "hw-trial", "Other")
	require.NoError(t, err)
	assert.False(t, denied.Success)
	assert.Equal(t, CodeTrialAlreadyUsedDevice, denied.Code)
}

func TestValidateLicense_Failures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		setup    func(t *testing.T, f *managerFixture) (email, key, hardwareID string, offline bool)
		wantCode string
	}{
		{
			name: "unknown key",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				return "a@x.com", "IW-000000-DEADBEEF", "hw-1", false
			},
			wantCode: CodeInvalidLicense,
		},
		{
			name: "deactivated license",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
				require.NoError(t, err)
				_, err = f.manager.HandleRefund(ctx, key, "dispute")
				require.NoError(t, err)
				return "a@x.com", key, "hw-1", false
			},
			wantCode: CodeLicenseDeactivated,
		},
		{
			name: "email mismatch",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
				require.NoError(t, err)
				return "wrong@x.com", key, "hw-1", false
			},
			wantCode: CodeEmailMismatch,
		},
		{
			name: "expired license",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				key, err := f.manager.CreateLicense(ctx, "a@x.com", 24*time.Hour, "", nil)
				require.NoError(t, err)
				f.advance(48 * time.Hour)
				return "a@x.com", key, "hw-1", false
			},
			wantCode: CodeLicenseExpired,
		},
		{
			name: "bound to other device",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
				require.NoError(t, err)
				_, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-first", "Laptop", false)
				require.NoError(t, err)
				return "a@x.com", key, "hw-second", false
			},
			wantCode: CodeBoundToOtherDevice,
		},
		{
			name: "trial offline",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				outcome, err := f.manager.CreateTrialLicense(ctx, "t@x.com", "hw-1", "Laptop")
				require.NoError(t, err)
				require.True(t, outcome.Success)
				return "t@x.com", outcome.LicenseKey, "hw-1", true
			},
			wantCode: CodeTrialRequiresOnline,
		},
		{
			name: "offline before first online validation",
			setup: func(t *testing.T, f *managerFixture) (string, string, string, bool) {
				key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
				require.NoError(t, err)
				return "a@x.com", key, "hw-1", true
			},
			wantCode: CodeRequiresOnlineValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t)
			email, key, hw, offline := tt.setup(t, f)

			outcome, err := f.manager.ValidateLicense(ctx, email, key, hw, "Device", offline)
			require.NoError(t, err)
			assert.False(t, outcome.Success)
			assert.Equal(t, tt.wantCode, outcome.Code)
		})
	}
}

func TestValidateLicense_BindsAndCounts(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)

	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", false)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	assert.False(t, outcome.IsTrial)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[key]
	assert.Equal(t, "hw-1", lic.HardwareID)
	assert.Equal(t, "Laptop", lic.DeviceName)
	assert.Equal(t, 1, lic.ValidationCount)
	require.NotNil(t, lic.LastValidatedAt)
	assert.Equal(t, *f.clock, *lic.LastValidatedAt)

	// Each online validation on the bound device bumps the counter.
	_, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", false)
	require.NoError(t, err)
	licenses, err = f.licenses.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, licenses[key].ValidationCount)
}

func TestValidateLicense_OfflineGrace(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)
	_, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", false)
	require.NoError(t, err)

	// Two days offline is inside the 72h grace window.
	f.advance(2 * 24 * time.Hour)
	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", true)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	// Offline validation must not refresh the grace window.
	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, licenses[key].ValidationCount)

	// Four days after the last online validation the grace has expired.
	f.advance(2 * 24 * time.Hour)
	outcome, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", true)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, CodeOfflineGraceExpired, outcome.Code)

	// Going back online resets the window.
	outcome, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", false)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestValidateLicense_FullSupersedesTrial(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	trialOutcome, err := f.manager.CreateTrialLicense(ctx, "a@x.com", "hw-1", "Laptop")
	require.NoError(t, err)
	require.True(t, trialOutcome.Success)

	// Purchase arrives; a full license is created directly.
	fullKey, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)

	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", fullKey, "hw-1", "Laptop", false)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	trials, err := f.trials.Load()
	require.NoError(t, err)
	trial := trials[trialOutcome.LicenseKey]
	assert.False(t, trial.IsActive, "trial should be superseded")
	assert.Equal(t, "superseded_by_full", trial.DeactivationReason)
	require.NotNil(t, trial.DeactivatedAt)

	// The superseded trial no longer validates.
	trialCheck, err := f.manager.ValidateLicense(ctx, "a@x.com", trialOutcome.LicenseKey, "hw-1", "Laptop", false)
	require.NoError(t, err)
	assert.False(t, trialCheck.Success)
	assert.Equal(t, CodeLicenseDeactivated, trialCheck.Code)
}

func TestValidateLicense_SupersedesTrialOnFailedValidation(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	trialOutcome, err := f.manager.CreateTrialLicense(ctx, "a@x.com", "hw-1", "Laptop")
	require.NoError(t, err)
	require.True(t, trialOutcome.Success)

	fullKey, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)

	// Bind the full license to the desktop directly so the trial is still
	// untouched when the next validation runs.
	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[fullKey]
	lic.HardwareID = "hw-2"
	lic.DeviceName = "Desktop"
	licenses[fullKey] = lic
	require.NoError(t, f.licenses.Save(licenses))

	// Validating from a third device fails the hardware check, but the
	// paid license was presented, so the trial is superseded anyway.
	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", fullKey, "hw-3", "Tablet", false)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	assert.Equal(t, CodeBoundToOtherDevice, outcome.Code)

	trials, err := f.trials.Load()
	require.NoError(t, err)
	trial := trials[trialOutcome.LicenseKey]
	assert.False(t, trial.IsActive, "trial superseded even when validation fails")
	assert.Equal(t, "superseded_by_full", trial.DeactivationReason)
	require.NotNil(t, trial.DeactivatedAt)
}

func TestValidateLicense_DeactivatedFullDoesNotSupersedeTrial(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	trialOutcome, err := f.manager.CreateTrialLicense(ctx, "a@x.com", "hw-1", "Laptop")
	require.NoError(t, err)

	fullKey, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[fullKey]
	lic.IsActive = false
	licenses[fullKey] = lic
	require.NoError(t, f.licenses.Save(licenses))

	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", fullKey, "hw-1", "Laptop", false)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	assert.Equal(t, CodeLicenseDeactivated, outcome.Code)

	trials, err := f.trials.Load()
	require.NoError(t, err)
	assert.True(t, trials[trialOutcome.LicenseKey].IsActive, "a deactivated license supersedes nothing")
}

func TestHandleRefund(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", &PurchaseInfo{Platform: PlatformStripe, TransactionID: "pi_1", Price: 49})
	require.NoError(t, err)

	result, err := f.manager.HandleRefund(ctx, key, "customer_request")
	require.NoError(t, err)
	assert.True(t, result.Success)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[key]
	assert.False(t, lic.IsActive)
	require.NotNil(t, lic.RefundedAt)
	assert.Equal(t, "customer_request", lic.RefundReason)

	// Webhook retries must not double-log the refund.
	result, err = f.manager.HandleRefund(ctx, key, "customer_request")
	require.NoError(t, err)
	assert.True(t, result.Success)

	refunds, err := f.audit.Filter(func(r PurchaseRecord) bool { return r.Event == EventRefund })
	require.NoError(t, err)
	assert.Len(t, refunds, 1)

	// Refunded license no longer validates.
	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-1", "Laptop", false)
	require.NoError(t, err)
	assert.Equal(t, CodeLicenseDeactivated, outcome.Code)

	status, err := f.manager.RefundStatus(ctx, key)
	require.NoError(t, err)
	assert.True(t, status.IsRefunded)
	assert.Equal(t, "customer_request", status.RefundReason)
	require.NotNil(t, status.RefundedAt)

	unknown, err := f.manager.HandleRefund(ctx, "IW-000000-DEADBEEF", "x")
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidLicense, unknown.Code)
}

func TestConvertTrialToFull(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	trialOutcome, err := f.manager.CreateTrialLicense(ctx, "a@x.com", "hw-1", "Laptop")
	require.NoError(t, err)
	require.True(t, trialOutcome.Success)

	f.advance(3 * 24 * time.Hour)

	fullKey, err := f.manager.ConvertTrialToFull(ctx, "a@x.com", "", PurchaseInfo{
		Platform:      PlatformGumroad,
		TransactionID: "sale-9",
		DurationDays:  365,
		Price:         49,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fullKey)

	trials, err := f.trials.Load()
	require.NoError(t, err)
	trial := trials[trialOutcome.LicenseKey]
	assert.True(t, trial.ConvertedToFull)
	assert.False(t, trial.IsActive)
	assert.Equal(t, fullKey, trial.FullLicenseKey)
	require.NotNil(t, trial.ConvertedAt)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[fullKey]
	assert.Equal(t, "hw-1", lic.HardwareID, "device binding carries over")
	assert.Equal(t, "Laptop", lic.DeviceName)
	assert.True(t, lic.WasTrial)
	assert.Equal(t, 3, lic.TrialDaysUsed)
	require.NotNil(t, lic.TrialStartedAt)

	records, err := f.audit.Filter(func(r PurchaseRecord) bool { return r.Event == EventTrialConversion })
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, fullKey, records[0].LicenseKey)

	// The old trial key now points users to their full key.
	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", trialOutcome.LicenseKey, "hw-1", "Laptop", false)
	require.NoError(t, err)
	assert.Equal(t, CodeTrialConverted, outcome.Code)

	// The full key validates on the inherited device.
	outcome, err = f.manager.ValidateLicense(ctx, "a@x.com", fullKey, "hw-1", "Laptop", false)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestConvertTrialToFull_NoPriorTrial(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	fullKey, err := f.manager.ConvertTrialToFull(ctx, "new@x.com", "", PurchaseInfo{
		Platform:      PlatformStripe,
		TransactionID: "pi_7",
	})
	require.NoError(t, err)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[fullKey]
	assert.False(t, lic.WasTrial)
	assert.Empty(t, lic.HardwareID)

	records, err := f.audit.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, EventPurchase, records[0].Event, "no trial means a plain purchase event")
}

func TestTransferLicense(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)
	_, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-old", "Old Laptop", false)
	require.NoError(t, err)

	result, err := f.manager.TransferLicense(ctx, "a@x.com", key, "hw-new", "New Laptop")
	require.NoError(t, err)
	assert.True(t, result.Success)

	outcome, err := f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-new", "New Laptop", false)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	outcome, err = f.manager.ValidateLicense(ctx, "a@x.com", key, "hw-old", "Old Laptop", false)
	require.NoError(t, err)
	assert.Equal(t, CodeBoundToOtherDevice, outcome.Code)
	assert.Equal(t, "New Laptop", outcome.BoundDevice)

	mismatch, err := f.manager.TransferLicense(ctx, "wrong@x.com", key, "hw-x", "X")
	require.NoError(t, err)
	assert.Equal(t, CodeEmailMismatch, mismatch.Code)
}

func TestFindBySourceKeyAndPlatformID(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", &PurchaseInfo{
		Platform:         PlatformGumroad,
		SourceLicenseKey: "GUM-SRC-1",
		TransactionID:    "sale-42",
	})
	require.NoError(t, err)

	found, ok, err := f.manager.FindBySourceKey(ctx, "GUM-SRC-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, found)

	_, ok, err = f.manager.FindBySourceKey(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	found, ok, err = f.manager.FindByPlatformID(ctx, PlatformGumroad, "sale-42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, found)

	_, ok, err = f.manager.FindByPlatformID(ctx, PlatformStripe, "sale-42")
	require.NoError(t, err)
	assert.False(t, ok, "transaction ids are scoped per platform")
}

func TestFindByPlatformID_LegacyField(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// Simulate a record written before transaction ids were unified.
	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	licenses["IW-111111-AAAA0001"] = License{
		Email:     "legacy@x.com",
		CreatedAt: *f.clock,
		ExpiresAt: f.clock.Add(365 * 24 * time.Hour),
		IsActive:  true,
		SaleID:    "old-sale-7",
	}
	require.NoError(t, f.licenses.Save(licenses))

	found, ok, err := f.manager.FindByPlatformID(ctx, PlatformGumroad, "old-sale-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "IW-111111-AAAA0001", found)
}

func TestFindLicenseByEmail(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	missing, err := f.manager.FindLicenseByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.False(t, missing.Success)
	assert.Equal(t, CodeNoLicenseFound, missing.Code)

	oldKey, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)
	_, err = f.manager.HandleRefund(ctx, oldKey, "customer_request")
	require.NoError(t, err)

	f.advance(time.Hour)
	activeKey, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.NoError(t, err)

	lookup, err := f.manager.FindLicenseByEmail(ctx, "A@X.COM")
	require.NoError(t, err)
	require.True(t, lookup.Success)
	assert.Equal(t, activeKey, lookup.LicenseKey, "active license wins over refunded one")
	assert.True(t, lookup.IsActive)
}

func TestLicenseInfo(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", &PurchaseInfo{
		Platform:    PlatformPaddle,
		ProductName: "ImageWave Pro",
		Price:       59,
	})
	require.NoError(t, err)

	info, err := f.manager.LicenseInfo(ctx, key)
	require.NoError(t, err)
	require.True(t, info.Success)
	require.NotNil(t, info.License)
	assert.Equal(t, "a@x.com", info.License.Email)
	require.NotNil(t, info.Purchase)
	assert.Equal(t, "ImageWave Pro", info.Purchase.ProductName)

	missing, err := f.manager.LicenseInfo(ctx, "IW-000000-DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidLicense, missing.Code)
}

func TestAuditSummary(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", &PurchaseInfo{Platform: PlatformGumroad, Price: 49})
	require.NoError(t, err)
	_, err = f.manager.CreateLicense(ctx, "b@x.com", 0, "", &PurchaseInfo{Platform: PlatformStripe, Price: 49, IsTest: true})
	require.NoError(t, err)
	_, err = f.manager.CreateTrialLicense(ctx, "c@x.com", "hw-9", "Laptop")
	require.NoError(t, err)
	_, err = f.manager.HandleRefund(ctx, key, "dispute")
	require.NoError(t, err)

	stats, err := f.manager.AuditSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRecords)
	assert.Equal(t, 2, stats.Purchases)
	assert.Equal(t, 1, stats.Refunds)
	assert.Equal(t, 1, stats.TrialsCreated)
	assert.Equal(t, 49.0, stats.Revenue, "test purchases excluded from revenue")
	assert.Equal(t, 1, stats.ByPlatform["gumroad"])
}

func TestStoreFailureSurfacesAsError(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.licenses.FailSave = true
	_, err := f.manager.CreateLicense(ctx, "a@x.com", 0, "", nil)
	require.Error(t, err)

	licenses, loadErr := f.licenses.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, licenses)
}
