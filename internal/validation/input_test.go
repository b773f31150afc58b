package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name           string
		email          string
		allowDispose   bool
		wantValid      bool
		wantNormalized string
		wantErrorKind  string
	}{
		{
			name:           "valid email",
			email:          "user@example.com",
			wantValid:      true,
			wantNormalized: "user@example.com",
		},
		{
			name:           "uppercase is lowered",
			email:          "User@Example.COM",
			wantValid:      true,
			wantNormalized: "user@example.com",
		},
		{
			name:           "surrounding whitespace trimmed",
			email:          "  a@b.co  ",
			wantValid:      true,
			wantNormalized: "a@b.co",
		},
		{
			name:          "empty",
			email:         "",
			wantErrorKind: "email_required",
		},
		{
			name:          "too short",
			email:         "a@b",
			wantErrorKind: "email_too_short",
		},
		{
			name:          "too long",
			email:         strings.Repeat("a", 250) + "@example.com",
			wantErrorKind: "email_too_long",
		},
		{
			name:          "missing domain",
			email:         "user@@com",
			wantErrorKind: "invalid_email_format",
		},
		{
			name:          "no tld",
			email:         "user@localhost",
			wantErrorKind: "invalid_email_format",
		},
		{
			name:          "disposable domain blocked",
			email:         "user@mailinator.com",
			wantErrorKind: "disposable_email",
		},
		{
			name:           "disposable domain allowed when opted in",
			email:          "user@mailinator.com",
			allowDispose:   true,
			wantValid:      true,
			wantNormalized: "user@mailinator.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateEmail(tt.email, tt.allowDispose)
			assert.Equal(t, tt.wantValid, got.Valid)
			if tt.wantValid {
				assert.Equal(t, tt.wantNormalized, got.Normalized)
			} else {
				assert.Equal(t, tt.wantErrorKind, got.ErrorKind)
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func TestValidateLicenseKey(t *testing.T) {
	tests := []struct {
		name           string
		key            string
		wantValid      bool
		wantNormalized string
		wantErrorKind  string
	}{
		{
			name:           "valid key",
			key:            "AB12-CD34-EF56-GH78",
			wantValid:      true,
			wantNormalized: "AB12-CD34-EF56-GH78",
		},
		{
			name:           "lowercase normalized",
			key:            " ab12-cd34-ef56-gh78 ",
			wantValid:      true,
			wantNormalized: "AB12-CD34-EF56-GH78",
		},
		{
			name:          "empty",
			key:           "",
			wantErrorKind: "license_key_required",
		},
		{
			name:          "wrong group count",
			key:           "AB12-CD34-EF56",
			wantErrorKind: "invalid_license_format",
		},
		{
			name:          "wrong group length",
			key:           "AB1-CD34-EF56-GH78",
			wantErrorKind: "invalid_license_format",
		},
		{
			name:          "invalid characters",
			key:           "AB!2-CD34-EF56-GH78",
			wantErrorKind: "invalid_license_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateLicenseKey(tt.key)
			assert.Equal(t, tt.wantValid, got.Valid)
			if tt.wantValid {
				assert.Equal(t, tt.wantNormalized, got.Normalized)
			} else {
				assert.Equal(t, tt.wantErrorKind, got.ErrorKind)
			}
		})
	}
}

func TestValidateHardwareID(t *testing.T) {
	tests := []struct {
		name          string
		hardwareID    string
		wantValid     bool
		wantErrorKind string
	}{
		{
			name:       "valid hex id",
			hardwareID: "a1b2c3d4e5f6",
			wantValid:  true,
		},
		{
			name:       "hyphenated id",
			hardwareID: "a1b2c3d4-e5f6-0798",
			wantValid:  true,
		},
		{
			name:          "empty",
			hardwareID:    "",
			wantErrorKind: "hardware_id_required",
		},
		{
			name:          "too short",
			hardwareID:    "abc123",
			wantErrorKind: "hardware_id_too_short",
		},
		{
			name:          "too long",
			hardwareID:    strings.Repeat("a", 129),
			wantErrorKind: "hardware_id_too_long",
		},
		{
			name:          "non-hex characters",
			hardwareID:    "zzzz-yyyy-xxxx",
			wantErrorKind: "hardware_id_invalid_chars",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateHardwareID(tt.hardwareID)
			assert.Equal(t, tt.wantValid, got.Valid)
			if !tt.wantValid {
				assert.Equal(t, tt.wantErrorKind, got.ErrorKind)
			}
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 255))
	assert.Equal(t, "he", SanitizeString("hello", 2))
	assert.Equal(t, "", SanitizeString("", 10))
	assert.Equal(t, "héllo", SanitizeString("héllo world", 5))
}
