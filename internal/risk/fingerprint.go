package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"smc-trading-bot/internal/patterns"
)

// Fingerprint derives the deterministic instruction id from the signal
// identity, instrument, direction and the rounded size. Identical inputs
// always produce the same id, which is what makes at-least-once delivery
// safe to deduplicate on both sides of the bridge.
func Fingerprint(sig patterns.CandidateSignal, size float64) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%.5f|%.5f|%.2f",
		sig.Instrument, sig.Direction, sig.Kind, sig.Timeframe,
		sig.Entry, sig.StopLoss, size)

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:16])
}
