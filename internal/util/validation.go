package util

import (
	"strings"

	"github.com/google/uuid"
)

// placeholderPrefixes mark identity values written for accounts that have not
// finished registration (social sign-in, provisional intake).
var placeholderPrefixes = []string{"TEMP_", "GOOGLE_"}

// IsValidUUID accepts only the canonical lowercase hyphenated form.
func IsValidUUID(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.String() == s
}

// IsPlaceholderIdentity reports whether v is empty or a provisional value
// nobody could present a credential for.
func IsPlaceholderIdentity(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	upper := strings.ToUpper(v)
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}
