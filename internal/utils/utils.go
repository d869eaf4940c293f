package utils

import "strings"

// NormalizePlate uppercases a raw plate read and strips everything that is
// not a letter or digit (spaces, dashes, dots from OCR noise).
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
