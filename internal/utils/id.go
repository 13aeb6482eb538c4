package utils

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IDHookFunc defines the signature for the NewID test hook.
// It returns an ID and a boolean indicating whether to override the default generation.
type IDHookFunc func() (id string, override bool)

// NewIDHook is a package-level variable that tests can set to override NewID behavior.
var NewIDHook IDHookFunc

// Crockford Base32 encoding alphabet (uppercase)
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewID returns a record ID made of the current Unix millisecond timestamp
// followed by a random lowercase Crockford Base32 suffix, e.g. "1718000000000-k3f9qz".
func NewID() string {
	if NewIDHook != nil {
		if id, override := NewIDHook(); override {
			return id
		}
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strings.ToLower(RandomSuffix(6))
}

// NewCaseNumber generates a human-readable case number ("sagsnummer"),
// e.g. "SAG-2024-7KQ2".
func NewCaseNumber(now time.Time) string {
	return fmt.Sprintf("SAG-%d-%s", now.Year(), RandomSuffix(4))
}

// RandomSuffix returns n random characters from the Crockford Base32 alphabet.
func RandomSuffix(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// fallback to zeros if random fails
		for i := range buf {
			buf[i] = 0
		}
	}
	result := make([]byte, n)
	for i, b := range buf {
		result[i] = crockfordAlphabet[b&0x1F]
	}
	return string(result)
}
