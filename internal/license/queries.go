package license

import (
	"context"
	"fmt"
)

// AuditStats summarizes the purchase audit log for admin reporting.
type AuditStats struct {
	TotalRecords     int            `json:"total_records"`
	Purchases        int            `json:"purchases"`
	Refunds          int            `json:"refunds"`
	TrialsCreated    int            `json:"trials_created"`
	TrialConversions int            `json:"trial_conversions"`
	ByPlatform       map[string]int `json:"by_platform"`
	Revenue          float64        `json:"revenue"`
}

// PurchaseHistory returns every audit record for a license key, in append
// order: creation, then any refund or conversion entries.
func (m *Manager) PurchaseHistory(ctx context.Context, licenseKey string) ([]PurchaseRecord, error) {
	if m.audit == nil {
		return []PurchaseRecord{}, nil
	}
	records, err := m.audit.Filter(func(r PurchaseRecord) bool {
		return r.LicenseKey == licenseKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read purchase history: %w", err)
	}
	return records, nil
}

// PurchasesByPlatform returns all purchase records for one platform.
func (m *Manager) PurchasesByPlatform(ctx context.Context, platform Platform) ([]PurchaseRecord, error) {
	if m.audit == nil {
		return []PurchaseRecord{}, nil
	}
	records, err := m.audit.Filter(func(r PurchaseRecord) bool {
		return r.Platform == platform && r.Event != EventRefund
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read purchases by platform: %w", err)
	}
	return records, nil
}

// RefundedKeys returns the license keys with a refund event in the audit
// log, in the order the refunds were recorded.
func (m *Manager) RefundedKeys(ctx context.Context) ([]string, error) {
	if m.audit == nil {
		return []string{}, nil
	}
	refunds, err := m.audit.Filter(func(r PurchaseRecord) bool {
		return r.Event == EventRefund
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read refund records: %w", err)
	}

	keys := []string{}
	seen := map[string]bool{}
	for _, r := range refunds {
		if !seen[r.LicenseKey] {
			seen[r.LicenseKey] = true
			keys = append(keys, r.LicenseKey)
		}
	}
	return keys, nil
}

// DisputedPurchases returns purchase records flagged as disputed.
func (m *Manager) DisputedPurchases(ctx context.Context) ([]PurchaseRecord, error) {
	if m.audit == nil {
		return []PurchaseRecord{}, nil
	}
	records, err := m.audit.Filter(func(r PurchaseRecord) bool {
		return r.IsDisputed
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read disputed purchases: %w", err)
	}
	return records, nil
}

// RecurringSubscriptions returns purchase records for recurring plans,
// keyed by subscription id where present.
func (m *Manager) RecurringSubscriptions(ctx context.Context) ([]PurchaseRecord, error) {
	if m.audit == nil {
		return []PurchaseRecord{}, nil
	}
	records, err := m.audit.Filter(func(r PurchaseRecord) bool {
		return r.IsRecurring && r.Event != EventRefund
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read recurring purchases: %w", err)
	}
	return records, nil
}

// AuditSummary aggregates the audit log into counts per event type and
// platform plus gross revenue. Test purchases are excluded from revenue.
func (m *Manager) AuditSummary(ctx context.Context) (AuditStats, error) {
	stats := AuditStats{ByPlatform: map[string]int{}}
	if m.audit == nil {
		return stats, nil
	}

	records, err := m.audit.ReadAll()
	if err != nil {
		return AuditStats{}, fmt.Errorf("failed to read audit log: %w", err)
	}

	for _, r := range records {
		stats.TotalRecords++
		switch r.Event {
		case EventPurchase:
			stats.Purchases++
		case EventRefund:
			stats.Refunds++
		case EventTrialCreated:
			stats.TrialsCreated++
		case EventTrialConversion:
			stats.TrialConversions++
		}
		if r.Event != EventRefund && r.Platform != "" {
			stats.ByPlatform[string(r.Platform)]++
		}
		if r.Event != EventRefund && !r.IsTest {
			stats.Revenue += r.Price
		}
	}

	return stats, nil
}
