package license

import "strings"

// Platform identifies the purchase/issuance source of a license.
type Platform string

const (
	PlatformGumroad      Platform = "gumroad"
	PlatformStripe       Platform = "stripe"
	PlatformPaddle       Platform = "paddle"
	PlatformLemonSqueezy Platform = "lemonsqueezy"
	// PlatformDirect marks manual/direct issuance by support or admin.
	PlatformDirect Platform = "direct"
	// PlatformTrial marks trial entitlements; trials have no external
	// transaction.
	PlatformTrial Platform = "trial"
)

// transactionIDFields maps each platform to the name its payloads use for
// the unique transaction id. Adding a platform means adding one entry
// here, not branching logic elsewhere.
var transactionIDFields = map[Platform]string{
	PlatformGumroad:      "sale_id",
	PlatformStripe:       "payment_intent",
	PlatformPaddle:       "order_id",
	PlatformLemonSqueezy: "order_id",
	PlatformDirect:       "transaction_id",
	PlatformTrial:        "",
}

// KnownPlatform reports whether p is a recognized purchase source.
func KnownPlatform(p Platform) bool {
	_, ok := transactionIDFields[p]
	return ok
}

// TransactionIDField returns the payload field name carrying the given
// platform's transaction id, or empty if the platform has none.
func TransactionIDField(p Platform) string {
	return transactionIDFields[p]
}

// ParsePlatform normalizes a platform string; unknown or empty values
// resolve to the direct/manual platform.
func ParsePlatform(s string) Platform {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if KnownPlatform(p) {
		return p
	}
	return PlatformDirect
}
