package discovery

import (
	"strings"

	"github.com/mr-tron/base58"

	"github.com/potwatch/potwatch/internal/token"
)

// Some event sources occasionally glue a launchpad name onto the mint.
var strippableSuffixes = []string{"pump", "bonk"}

// SanitizeMint cleans a raw mint string from an event source and reports
// whether the result looks like a real token address. A launchpad suffix is
// stripped only when the stripped value is itself a valid address; plenty of
// legitimate mints genuinely end in "pump".
func SanitizeMint(raw string) (token.Mint, bool) {
	s := strings.TrimSpace(raw)
	for _, suffix := range strippableSuffixes {
		if stripped, ok := strings.CutSuffix(s, suffix); ok && validAddress(stripped) {
			return token.Mint(stripped), true
		}
	}
	if validAddress(s) {
		return token.Mint(s), true
	}
	return "", false
}

// validAddress checks base58 shape: 32..44 chars decoding to a 32-byte key.
func validAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	decoded, err := base58.Decode(s)
	return err == nil && len(decoded) == 32
}
