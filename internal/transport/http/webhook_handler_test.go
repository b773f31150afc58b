package http

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iwlicense/internal/license"
)

func gumroadSale(saleID, email string) url.Values {
	return url.Values{
		"email":          {email},
		"sale_id":        {saleID},
		"license_key":    {"GR-" + saleID},
		"product_name":   {"ImageWave"},
		"variants[Tier]": {"Yearly"},
		"price":          {"49.00"},
		"currency":       {"USD"},
	}
}

func TestGumroadWebhook_Purchase(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postForm(t, "/api/webhooks/gumroad", gumroadSale("sale-1", "buyer@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	key, _ := body["license_key"].(string)
	require.NotEmpty(t, key)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic, found := licenses[key]
	require.True(t, found)
	assert.Equal(t, "buyer@example.com", lic.Email)
	assert.Equal(t, license.PlatformGumroad, lic.Platform)
	assert.Equal(t, "sale-1", lic.PlatformTransactionID)
	assert.Equal(t, "GR-sale-1", lic.SourceLicenseKey)
	// Yearly tier expires about a year out.
	assert.WithinDuration(t, time.Now().Add(365*24*time.Hour), lic.ExpiresAt, time.Hour)
}

func TestGumroadWebhook_ReplayReturnsExistingKey(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postForm(t, "/api/webhooks/gumroad", gumroadSale("sale-1", "buyer@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode(t, rec)["license_key"]

	rec = f.postForm(t, "/api/webhooks/gumroad", gumroadSale("sale-1", "buyer@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "already_processed", body["status"])
	assert.Equal(t, first, body["license_key"])

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Len(t, licenses, 1)
}

func TestGumroadWebhook_ConvertsTrial(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	trial, err := f.manager.CreateTrialLicense(ctx, "buyer@example.com", testHardwareID, "Laptop")
	require.NoError(t, err)
	require.True(t, trial.Success)

	rec := f.postForm(t, "/api/webhooks/gumroad", gumroadSale("sale-7", "buyer@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	key := decode(t, rec)["license_key"].(string)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[key]
	assert.True(t, lic.WasTrial)
	assert.Equal(t, testHardwareID, lic.HardwareID)

	trials, err := f.trials.Load()
	require.NoError(t, err)
	converted := trials[trial.LicenseKey]
	assert.True(t, converted.ConvertedToFull)
	assert.False(t, converted.IsActive)
	assert.Equal(t, key, converted.FullLicenseKey)
}

func TestGumroadWebhook_Refund(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postForm(t, "/api/webhooks/gumroad", gumroadSale("sale-1", "buyer@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	key := decode(t, rec)["license_key"].(string)

	refund := gumroadSale("sale-1", "buyer@example.com")
	refund.Set("refunded", "true")
	rec = f.postForm(t, "/api/webhooks/gumroad", refund)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "refund_processed", body["status"])
	assert.Equal(t, key, body["license_key"])

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.False(t, licenses[key].IsActive)
	assert.NotNil(t, licenses[key].RefundedAt)
}

func TestGumroadWebhook_RefundUnknownLicense(t *testing.T) {
	f := newServerFixture(t)

	refund := gumroadSale("sale-404", "ghost@example.com")
	refund.Set("refunded", "true")
	rec := f.postForm(t, "/api/webhooks/gumroad", refund)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGumroadWebhook_EmptyPayload(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postForm(t, "/api/webhooks/gumroad", url.Values{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook(t *testing.T) {
	f := newServerFixture(t)

	payload := map[string]any{
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"payment_intent": "pi_123",
				"customer_email": "buyer@example.com",
				"amount_total":   4900,
				"currency":       "usd",
				"metadata": map[string]any{
					"duration_days": "365",
					"product_name":  "ImageWave",
				},
			},
		},
	}

	rec := f.postJSON(t, "/api/webhooks/stripe", payload, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	key := body["license_key"].(string)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	lic := licenses[key]
	assert.Equal(t, license.PlatformStripe, lic.Platform)
	assert.Equal(t, "pi_123", lic.PlatformTransactionID)

	// Refund by payment intent.
	refund := map[string]any{
		"type": "charge.refunded",
		"data": map[string]any{
			"object": map[string]any{
				"payment_intent": "pi_123",
			},
		},
	}
	rec = f.postJSON(t, "/api/webhooks/stripe", refund, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refund_processed", decode(t, rec)["status"])

	licenses, err = f.licenses.Load()
	require.NoError(t, err)
	assert.False(t, licenses[key].IsActive)
}

func TestPaddleWebhook(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postJSON(t, "/api/webhooks/paddle", map[string]any{
		"alert_name":   "payment_succeeded",
		"order_id":     "ord-55",
		"email":        "buyer@example.com",
		"sale_gross":   "29.99",
		"currency":     "USD",
		"product_name": "ImageWave",
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	key := decode(t, rec)["license_key"].(string)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Equal(t, license.PlatformPaddle, licenses[key].Platform)
	assert.Equal(t, "ord-55", licenses[key].PlatformTransactionID)
}

func TestLemonSqueezyWebhook(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postJSON(t, "/api/webhooks/lemonsqueezy", map[string]any{
		"meta": map[string]any{"event_name": "order_created"},
		"data": map[string]any{
			"attributes": map[string]any{
				"order_number": 9001,
				"user_email":   "buyer@example.com",
				"total":        1999,
				"currency":     "USD",
				"product_name": "ImageWave",
			},
		},
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	key := decode(t, rec)["license_key"].(string)

	licenses, err := f.licenses.Load()
	require.NoError(t, err)
	assert.Equal(t, license.PlatformLemonSqueezy, licenses[key].Platform)
	assert.Equal(t, "9001", licenses[key].PlatformTransactionID)
}

func TestWebhook_MissingEmail(t *testing.T) {
	f := newServerFixture(t)

	rec := f.postForm(t, "/api/webhooks/gumroad", url.Values{
		"sale_id": {"sale-1"},
		"price":   {"49.00"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
