package validation

import (
	"regexp"
	"strings"
)

// Result is the outcome of validating a single input value. Normalized
// holds the canonical form of the value when Valid is true.
type Result struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	ErrorKind  string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Practical email pattern. Intentionally not full RFC 5322; matches the
// formats real customers use without accepting garbage.
var emailRegex = regexp.MustCompile(
	`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9]([a-zA-Z0-9\-]*[a-zA-Z0-9])?` +
		`(\.[a-zA-Z0-9]([a-zA-Z0-9\-]*[a-zA-Z0-9])?)+$`)

// License key format after normalization: XXXX-XXXX-XXXX-XXXX
var licenseKeyRegex = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Known disposable email domains, rejected unless explicitly allowed
var disposableEmailDomains = map[string]struct{}{
	"tempmail.com":       {},
	"throwaway.email":    {},
	"10minutemail.com":   {},
	"guerrillamail.com":  {},
	"mailinator.com":     {},
	"temp-mail.org":      {},
	"fakeinbox.com":      {},
	"trashmail.com":      {},
	"sharklasers.com":    {},
	"getnada.com":        {},
	"maildrop.cc":        {},
	"dispostable.com":    {},
}

const (
	emailMaxLength      = 254 // RFC 5321 limit
	emailMinLength      = 5   // a@b.c
	hardwareIDMinLength = 8
	hardwareIDMaxLength = 128
)

// ValidateEmail validates and normalizes an email address. The normalized
// form is lower-cased and trimmed.
func ValidateEmail(email string, allowDisposable bool) Result {
	if email == "" {
		return Result{ErrorKind: "email_required", Message: "Email address is required"}
	}

	email = strings.ToLower(strings.TrimSpace(email))

	if len(email) > emailMaxLength {
		return Result{ErrorKind: "email_too_long", Message: "Email address is too long"}
	}
	if len(email) < emailMinLength {
		return Result{ErrorKind: "email_too_short", Message: "Email address is too short"}
	}

	if !emailRegex.MatchString(email) {
		return Result{ErrorKind: "invalid_email_format", Message: "Please enter a valid email address"}
	}

	domain := email[strings.LastIndex(email, "@")+1:]
	if !allowDisposable {
		if _, ok := disposableEmailDomains[domain]; ok {
			return Result{ErrorKind: "disposable_email", Message: "Please use a non-disposable email address"}
		}
	}

	return Result{Valid: true, Normalized: email}
}

// ValidateLicenseKey validates a license key format. The normalized form is
// upper-cased and trimmed.
func ValidateLicenseKey(licenseKey string) Result {
	if licenseKey == "" {
		return Result{ErrorKind: "license_key_required", Message: "License key is required"}
	}

	licenseKey = strings.ToUpper(strings.TrimSpace(licenseKey))

	if !licenseKeyRegex.MatchString(licenseKey) {
		return Result{
			ErrorKind: "invalid_license_format",
			Message:   "Invalid license key format. Expected: XXXX-XXXX-XXXX-XXXX",
		}
	}

	return Result{Valid: true, Normalized: licenseKey}
}

// ValidateHardwareID validates a device hardware identifier. Hardware IDs
// are hex digests, optionally hyphen-separated.
func ValidateHardwareID(hardwareID string) Result {
	if hardwareID == "" {
		return Result{ErrorKind: "hardware_id_required", Message: "Hardware ID is required"}
	}

	hardwareID = strings.TrimSpace(hardwareID)

	if len(hardwareID) < hardwareIDMinLength {
		return Result{ErrorKind: "hardware_id_too_short", Message: "Invalid hardware ID"}
	}
	if len(hardwareID) > hardwareIDMaxLength {
		return Result{ErrorKind: "hardware_id_too_long", Message: "Invalid hardware ID"}
	}

	for _, c := range hardwareID {
		if !isHexOrHyphen(c) {
			return Result{ErrorKind: "hardware_id_invalid_chars", Message: "Invalid hardware ID format"}
		}
	}

	return Result{Valid: true, Normalized: hardwareID}
}

// SanitizeString strips surrounding whitespace and truncates free-text
// input to maxLength runes.
func SanitizeString(value string, maxLength int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) > maxLength {
		return string(runes[:maxLength])
	}
	return value
}

func isHexOrHyphen(c rune) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	case c == '-':
		return true
	}
	return false
}
