package ids

import (
	"strings"
	"testing"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestKey(t *testing.T) {
	k := Key("appointment", "/42/", "prescription")
	if !strings.HasPrefix(k, "appointment-42-prescription-") || strings.Contains(k, "/") {
		t.Fatalf("unexpected key %q", k)
	}
	if got := Key(); len(got) != 26 {
		t.Fatalf("expected bare ulid, got %q", got)
	}
	if got := Key(" ", "/"); len(got) != 26 {
		t.Fatalf("expected bare ulid for empty segments, got %q", got)
	}
}
