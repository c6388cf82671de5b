package querycache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const readableCap = 160

// Key derives the Redis key for one rendered endpoint response. The readable
// middle segment keeps keys greppable in redis-cli; the xxhash suffix is what
// actually distinguishes queries once the readable part is normalized or cut.
func Key(endpoint, params string) string {
	canon := canonical(params)
	return fmt.Sprintf("aq:q:%s:%s:f=%016x",
		slug(endpoint, 32), slug(canon, readableCap), xxhash.Sum64String(canon))
}

// canonical squeezes whitespace runs to one space so spacing variants of the
// same query hash identically.
func canonical(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// slug maps s onto the redis-safe alphabet [A-Za-z0-9=_-], squeezing repeated
// separators and truncating to max bytes.
func slug(s string, max int) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		var c byte
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '=':
			c = byte(r)
		case r == ' ':
			c = '_'
		default:
			c = '-'
		}
		if (c == '_' || c == '-') && len(out) > 0 && out[len(out)-1] == c {
			continue
		}
		out = append(out, c)
	}
	if len(out) > max {
		out = out[:max]
	}
	return string(out)
}
