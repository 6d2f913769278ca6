package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. Used for notification
// event ids and blob keys.
func New() string {
	return newAt(time.Now())
}

// Key joins segments and a fresh identifier into a flat storage key,
// e.g. Key("appointment", "42", "prescription") -> "appointment-42-prescription-01J...".
// Slashes are stripped so the key is safe as a file name.
func Key(segments ...string) string {
	id := New()
	if len(segments) == 0 {
		return id
	}
	clean := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(strings.ReplaceAll(strings.TrimSpace(s), "/", "-"), "-")
		if s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return id
	}
	return strings.Join(append(clean, id), "-")
}

func newAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
