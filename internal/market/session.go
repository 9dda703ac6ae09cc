package market

import "time"

// Session tags the trading session a timestamp falls into. Overlap tags take
// precedence over single-session tags because liquidity is concentrated there.
type Session string

const (
	SessionSydney       Session = "sydney"
	SessionTokyo        Session = "tokyo"
	SessionLondon       Session = "london"
	SessionNewYork      Session = "newyork"
	SessionTokyoLondon  Session = "tokyo_london"
	SessionLondonNY     Session = "london_newyork"
	SessionOffHours     Session = "off_hours"
)

// Session boundaries in UTC hours.
const (
	sydneyOpen  = 21
	sydneyClose = 6
	tokyoOpen   = 0
	tokyoClose  = 9
	londonOpen  = 7
	londonClose = 16
	newYorkOpen = 12
	newYorkClose = 21
)

// SessionAt classifies a timestamp into a trading session tag.
func SessionAt(ts time.Time) Session {
	h := ts.UTC().Hour()

	inLondon := h >= londonOpen && h < londonClose
	inNewYork := h >= newYorkOpen && h < newYorkClose
	inTokyo := h >= tokyoOpen && h < tokyoClose
	inSydney := h >= sydneyOpen || h < sydneyClose

	switch {
	case inLondon && inNewYork:
		return SessionLondonNY
	case inTokyo && inLondon:
		return SessionTokyoLondon
	case inLondon:
		return SessionLondon
	case inNewYork:
		return SessionNewYork
	case inTokyo:
		return SessionTokyo
	case inSydney:
		return SessionSydney
	default:
		return SessionOffHours
	}
}
