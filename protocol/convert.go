package protocol

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var validHex = regexp.MustCompile(`^[0-9A-F]+$`)

// ParseUID decodes a tag UID from various formats.
// Supports: "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF", "04-AB-CD-EF"
func ParseUID(uid string) ([]byte, error) {
	if uid == "" {
		return nil, fmt.Errorf("empty UID")
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	cleaned = strings.ToUpper(cleaned)

	if !validHex.MatchString(cleaned) {
		return nil, fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	return hex.DecodeString(cleaned)
}

// FormatUID renders a UID as uppercase hex without separators, the form
// used in TagInfo.UID.
func FormatUID(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}

// FormatUIDColon renders a UID as colon-separated uppercase hex, for logs
// and the tray menu.
func FormatUIDColon(uid []byte) string {
	var b strings.Builder
	for i, c := range uid {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}
