package funding

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var referencePattern = regexp.MustCompile(`^WALLET_\d+_\d+_[0-9a-f]{8}$`)

// NewReference mints WALLET_<userID>_<unixMillis>_<8 hex>.
func NewReference(userID uint, now time.Time) string {
	return fmt.Sprintf("WALLET_%d_%d_%s", userID, now.UnixMilli(), shortID())
}

func IsReference(reference string) bool {
	return referencePattern.MatchString(reference)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
