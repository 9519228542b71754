package sqlutil

import (
	"testing"
	"time"
)

func TestStringRoundTrip(t *testing.T) {
	if got := FromNullString(ToNullString("")); got != "" {
		t.Errorf("empty string round trip = %q", got)
	}
	if got := FromNullString(ToNullString("x")); got != "x" {
		t.Errorf("round trip = %q, want x", got)
	}
}

func TestInt64RoundTrip(t *testing.T) {
	if got := FromNullInt64(ToNullInt64(0)); got != 0 {
		t.Errorf("zero round trip = %d", got)
	}
	if got := FromNullInt64(ToNullInt64(42)); got != 42 {
		t.Errorf("round trip = %d, want 42", got)
	}
}

func TestTimePtrRoundTrip(t *testing.T) {
	if p := NullTimeToPtr(PtrToNullTime(nil)); p != nil {
		t.Errorf("expected nil, got %v", p)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := NullTimeToPtr(PtrToNullTime(&now))
	if p == nil || !p.Equal(now) {
		t.Errorf("round trip = %v, want %v", p, now)
	}
}

func TestZeroTimeIsNull(t *testing.T) {
	nt := ToNullTime(time.Time{})
	if nt.Valid {
		t.Error("zero time should be NULL")
	}
}
