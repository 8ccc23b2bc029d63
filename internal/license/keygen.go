package license

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"entitle/pkg/contracts/domain"
)

const (
	keyLength  = 25
	groupSize  = 5
	groupCount = keyLength / groupSize
)

// GenerateKey derives the canonical license key from identity, tier, issue
// tick and the injected signing secret:
//
//	sha256(email|tier|tick|secret) -> base64 -> strip "+/=" -> upper
//	-> first 25 chars -> five hyphenated 5-char groups
//
// Deterministic for identical inputs. tick must carry sub-millisecond
// resolution so two rapid issuances for the same email and tier still
// diverge; no uniqueness check against the store happens here.
func GenerateKey(email string, tier domain.Tier, tick int64, secret string) string {
	data := fmt.Sprintf("%s|%s|%d|%s", email, tier, tick, secret)
	sum := sha256.Sum256([]byte(data))

	encoded := base64.StdEncoding.EncodeToString(sum[:])
	encoded = strings.NewReplacer("+", "", "/", "", "=", "").Replace(encoded)
	encoded = strings.ToUpper(encoded)[:keyLength]

	groups := make([]string, 0, groupCount)
	for i := 0; i < keyLength; i += groupSize {
		groups = append(groups, encoded[i:i+groupSize])
	}
	return strings.Join(groups, "-")
}
