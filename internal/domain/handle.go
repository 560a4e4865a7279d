package domain

import "strings"

// NormalizeHandle rewrites Zambian phone numbers into +260XXXXXXXXX form.
// Accepted inputs are the international form (260 + 9 digits), the local
// trunk form (09X XXX XXXX) and the bare subscriber form (97X/76X/96X + 6).
// Anything else is returned trimmed but otherwise untouched, so non-phone
// handles pass through.
func NormalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)

	var b strings.Builder
	for _, r := range handle {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "260") && len(digits) == 12:
		return "+" + digits
	case strings.HasPrefix(digits, "09") && len(digits) == 10:
		return "+260" + digits[1:]
	case len(digits) == 9 && hasMobilePrefix(digits):
		return "+260" + digits
	}
	return handle
}

func hasMobilePrefix(digits string) bool {
	return strings.HasPrefix(digits, "97") ||
		strings.HasPrefix(digits, "76") ||
		strings.HasPrefix(digits, "96")
}
