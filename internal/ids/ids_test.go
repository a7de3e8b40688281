package ids

import (
	"testing"
	"time"
)

func TestNewIsMonotonicWithinSameInstant(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 1000; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("id %s not greater than %s", next, prev)
		}
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
	got, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected id to parse")
	}
	if !got.Equal(at) {
		t.Fatalf("unexpected time: %v, want %v", got, at)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected invalid id to fail")
	}
}
