// Package slug builds the URL path segments used for projects and posts.
package slug

import (
	"strings"
	"time"
	"unicode"
)

const MAX_LEN = 80

// Entry is a published page addressed by slug.
type Entry struct {
	Slug    string
	Updated time.Time
}

// Make turns a title into a slug: lower case letters and digits separated by
// single dashes.
func Make(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	s := b.String()
	if len(s) > MAX_LEN {
		s = strings.TrimRight(s[:MAX_LEN], "-")
	}
	return s
}

// Valid is true if s could have been produced by Make.
func Valid(s string) bool {
	if s == "" || len(s) > MAX_LEN {
		return false
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") || strings.Contains(s, "--") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}
