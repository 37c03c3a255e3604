package rubric

import (
	"fmt"
	"strings"
)

// Slugify derives a rubric key from a label: lowercase, every run of characters
// outside [a-z0-9] collapsed to a single underscore, no leading or trailing underscore.
func Slugify(label string) string {
	lower := strings.ToLower(label)
	var b strings.Builder
	b.Grow(len(lower))
	pendingSep := false
	for i := 0; i < len(lower); i++ {
		ch := lower[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteByte(ch)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// keySet hands out unique keys, suffixing repeats with _2, _3, ...
type keySet map[string]struct{}

func (s keySet) claim(key string) string {
	if _, taken := s[key]; !taken {
		s[key] = struct{}{}
		return key
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", key, n)
		if _, taken := s[candidate]; !taken {
			s[candidate] = struct{}{}
			return candidate
		}
	}
}
