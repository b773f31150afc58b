package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"iwlicense/internal/infrastructure"
)

// logAction logs a manager action with standard component attributes.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx)

	allAttrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction logs license-specific actions with masked identifiers.
// Raw keys and emails never reach the log; a short hash is kept for audit
// correlation.
func (m *Manager) logLicenseAction(ctx context.Context, level slog.Level, action, result, licenseKey, email string, attrs ...slog.Attr) {
	licenseAttrs := []slog.Attr{
		slog.String("license_key_masked", maskLicenseKey(licenseKey)),
		slog.String("license_key_hash", hashLicenseKey(licenseKey)),
		slog.String("email_masked", maskEmail(email)),
	}
	licenseAttrs = append(licenseAttrs, attrs...)

	m.logAction(ctx, level, action, result, licenseAttrs...)
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// maskLicenseKey masks the middle of a license key
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// maskEmail masks an email while preserving the domain for analytics
func maskEmail(email string) string {
	if email == "" {
		return ""
	}

	atIndex := strings.Index(email, "@")
	if atIndex == -1 {
		return "****"
	}

	username := email[:atIndex]
	domain := email[atIndex:]

	if len(username) <= 2 {
		return "**" + domain
	}
	return username[:1] + "****" + username[len(username)-1:] + domain
}

// hashLicenseKey creates a short hash of the license key for correlation
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
