package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHardwareID = "deadbeef-00112233"

func TestValidateEndpoint(t *testing.T) {
	f := newServerFixture(t)

	key, err := f.manager.CreateLicense(context.Background(), "user@example.com", 0, "", nil)
	require.NoError(t, err)

	t.Run("valid license", func(t *testing.T) {
		rec := f.postJSON(t, "/api/license/validate", map[string]any{
			"email":       "user@example.com",
			"license_key": key,
			"hardware_id": testHardwareID,
			"device_name": "Test Machine",
		}, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
	})

	t.Run("unknown key is 404", func(t *testing.T) {
		rec := f.postJSON(t, "/api/license/validate", map[string]any{
			"email":       "user@example.com",
			"license_key": "IW-000000-FFFFFFFF",
			"hardware_id": testHardwareID,
		}, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "invalid_license", body["error"])
	})

	t.Run("wrong email is 403", func(t *testing.T) {
		rec := f.postJSON(t, "/api/license/validate", map[string]any{
			"email":       "other@example.com",
			"license_key": key,
			"hardware_id": testHardwareID,
		}, nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing fields are 400", func(t *testing.T) {
		rec := f.postJSON(t, "/api/license/validate", map[string]any{
			"email": "user@example.com",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestValidateEndpoint_DeviceConflict(t *testing.T) {
	f := newServerFixture(t)

	key, err := f.manager.CreateLicense(context.Background(), "user@example.com", 0, "", nil)
	require.NoError(t, err)

	rec := f.postJSON(t, "/api/license/validate", map[string]any{
		"email":       "user@example.com",
		"license_key": key,
		"hardware_id": testHardwareID,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.postJSON(t, "/api/license/validate", map[string]any{
		"email":       "user@example.com",
		"license_key": key,
		"hardware_id": "cafebabe-99887766",
	}, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "bound_to_other_device", body["error"])
}

func TestTrialCreateEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postJSON(t, "/api/trial/create", map[string]any{
		"email":       "trial@example.com",
		"hardware_id": testHardwareID,
		"device_name": "Laptop",
	}, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	key, _ := body["license_key"].(string)
	assert.True(t, len(key) > 0 && key[:3] == "IW-")

	// Second trial for the same email is denied.
	rec = f.postJSON(t, "/api/trial/create", map[string]any{
		"email":       "trial@example.com",
		"hardware_id": "cafebabe-99887766",
	}, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "trial_already_used_email", body["error"])
}

func TestTrialCreateEndpoint_RejectsDisposableEmail(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postJSON(t, "/api/trial/create", map[string]any{
		"email":       "abuser@mailinator.com",
		"hardware_id": testHardwareID,
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckEligibilityEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postJSON(t, "/api/trial/check-eligibility", map[string]any{
		"email":       "fresh@example.com",
		"hardware_id": testHardwareID,
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["eligible"])

	_, err := f.manager.CreateTrialLicense(context.Background(), "fresh@example.com", testHardwareID, "Laptop")
	require.NoError(t, err)

	rec = f.postJSON(t, "/api/trial/check-eligibility", map[string]any{
		"email":       "fresh@example.com",
		"hardware_id": testHardwareID,
	}, nil)

	// Denial is still a 200; the body carries the reason.
	assert.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["eligible"])
	assert.Equal(t, "trial_already_used_email", body["reason"])
}

func TestForgotEndpoint(t *testing.T) {
	f := newServerFixture(t)

	key, err := f.manager.CreateLicense(context.Background(), "user@example.com", 0, "", nil)
	require.NoError(t, err)

	rec := f.postJSON(t, "/api/license/forgot", map[string]any{
		"email": "user@example.com",
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	// The key must never be echoed back.
	assert.NotContains(t, rec.Body.String(), key)

	rec = f.postJSON(t, "/api/license/forgot", map[string]any{
		"email": "nobody@example.com",
	}, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOfflineCheckEndpoint(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	key, err := f.manager.CreateLicense(ctx, "user@example.com", 0, "", nil)
	require.NoError(t, err)

	// Bind the license with one online validation first.
	outcome, err := f.manager.ValidateLicense(ctx, "user@example.com", key, testHardwareID, "Laptop", false)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	rec := f.postJSON(t, "/api/license/offline-check/"+key, map[string]any{
		"email":       "user@example.com",
		"hardware_id": testHardwareID,
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["can_use_offline"])
}

func TestValidateEndpoint_RateLimited(t *testing.T) {
	f := newServerFixture(t)

	// Exhaust the per-action budget with invalid-key attempts.
	var rec = f.postJSON(t, "/api/license/validate", map[string]any{
		"email":       "burst@example.com",
		"license_key": "IW-000000-FFFFFFFF",
		"hardware_id": testHardwareID,
	}, nil)
	for i := 0; i < 100 && rec.Code != http.StatusTooManyRequests; i++ {
		rec = f.postJSON(t, "/api/license/validate", map[string]any{
			"email":       "burst@example.com",
			"license_key": "IW-000000-FFFFFFFF",
			"hardware_id": testHardwareID,
		}, nil)
	}

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decode(t, rec)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	retry, ok := body["retry_after"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, time.Duration(retry)*time.Second, time.Second)
}
