package models

import (
	"testing"
	"time"
)

func TestKeyFromMillisRoundTrip(t *testing.T) {
	ms := time.Date(2026, 8, 25, 14, 30, 15, 0, time.Local).UnixMilli() + 777
	k := KeyFromMillis(ms)
	if k.Year != 2026 || k.Month != 8 || k.Day != 25 || k.Hour != 14 ||
		k.Minute != 30 || k.Second != 15 || k.Milli != 777 {
		t.Errorf("bad decomposition: %+v", k)
	}
	if got := k.Millis(); got != ms {
		t.Errorf("Millis round trip: got %d want %d", got, ms)
	}
}

func TestTimeKeyLess(t *testing.T) {
	base := KeyFromMillis(time.Date(2026, 8, 25, 14, 30, 15, 0, time.Local).UnixMilli() + 500)
	cases := []struct {
		name string
		mod  func(TimeKey) TimeKey
		want bool
	}{
		{"equal", func(k TimeKey) TimeKey { return k }, false},
		{"later milli", func(k TimeKey) TimeKey { k.Milli++; return k }, true},
		{"earlier second", func(k TimeKey) TimeKey { k.Second--; return k }, false},
		{"later year beats earlier month", func(k TimeKey) TimeKey { k.Year++; k.Month = 1; return k }, true},
	}
	for _, c := range cases {
		other := c.mod(base)
		if got := base.Less(other); got != c.want {
			t.Errorf("%s: base.Less(other) = %v, want %v", c.name, got, c.want)
		}
		if c.want && other.Less(base) {
			t.Errorf("%s: Less is not antisymmetric", c.name)
		}
	}
}
