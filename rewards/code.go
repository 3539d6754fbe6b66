package rewards

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CodePrefix starts every redemption code.
const CodePrefix = "WW"

// CodeGenerator returns a new redemption code for an instant.
type CodeGenerator func(now time.Time) (string, error)

// NewCode builds "WW" + base36(unix millis) + "-" + 6 random hex digits,
// all upper case. The timestamp keeps codes roughly sortable; the random
// suffix keeps two redemptions in the same millisecond apart.
func NewCode(now time.Time) (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return CodePrefix + stamp + "-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
