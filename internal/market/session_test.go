package market

import (
	"testing"
	"time"
)

func TestSessionAt(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		hour int
		want Session
	}{
		{3, SessionTokyo},
		{8, SessionTokyoLondon},
		{10, SessionLondon},
		{13, SessionLondonNY},
		{15, SessionLondonNY},
		{18, SessionNewYork},
		{22, SessionSydney},
	}

	for _, tc := range cases {
		ts := day.Add(time.Duration(tc.hour) * time.Hour)
		if got := SessionAt(ts); got != tc.want {
			t.Errorf("SessionAt(%02d:00 UTC) = %s, want %s", tc.hour, got, tc.want)
		}
	}
}

func TestSessionAtConvertsToUTC(t *testing.T) {
	// 08:00 in New York is 13:00 UTC in January: the London/NY overlap.
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 1, 5, 8, 0, 0, 0, loc)
	if got := SessionAt(ts); got != SessionLondonNY {
		t.Errorf("SessionAt(non-UTC ts) = %s, want %s", got, SessionLondonNY)
	}
}
