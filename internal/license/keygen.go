package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyPrefix is the issuer prefix on internally generated license keys.
const KeyPrefix = "IW"

// GenerateKey produces a new license key in the form IW-XXXXXX-XXXXXXXX:
// the last six digits of the issue timestamp plus eight random hex
// characters. Uniqueness is enforced against the store at creation time.
func GenerateKey(now time.Time) (string, error) {
	ts := strconv.FormatInt(now.Unix(), 10)
	if len(ts) > 6 {
		ts = ts[len(ts)-6:]
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	random := strings.ToUpper(hex.EncodeToString(buf))

	return fmt.Sprintf("%s-%s-%s", KeyPrefix, ts, random), nil
}
