package policy

import (
	"strings"
	"unicode"
)

// Normalize prepares text for rule matching: control characters and
// zero-width characters are dropped, everything else is Unicode-lowercased.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if unicode.IsControl(ch) {
			continue
		}
		for _, lc := range strings.ToLower(string(ch)) {
			switch lc {
			case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			default:
				b.WriteRune(lc)
			}
		}
	}
	return b.String()
}

// NormalizePathName canonicalizes a user-supplied path name: lowercase,
// letters and digits kept, every run of anything else folded to a single
// dash, leading/trailing dashes trimmed. "feature_x" and "Feature X" both
// normalize to "feature-x".
func NormalizePathName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	dash := false
	for _, ch := range strings.ToLower(name) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
