package engine

import (
	"sync"
	"time"

	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/risk"
	"smc-trading-bot/internal/shield"
)

// recentSignalCap bounds the ring of signals kept for the status API.
const recentSignalCap = 50

// pendingGrace keeps an expired pending instruction around long enough for
// a late rejection Result to resolve it before it is pruned.
const pendingGrace = time.Minute

// SignalRecord pairs a scored signal with its consensus verdict for display.
type SignalRecord struct {
	Signal  confluence.ScoredSignal `json:"signal"`
	Verdict shield.Verdict          `json:"verdict"`
	SeenAt  time.Time               `json:"seen_at"`
}

// Snapshot is the read-only state served by the status API.
type Snapshot struct {
	Account          account.Snapshot          `json:"account"`
	Positions        []bridge.PositionSnapshot `json:"positions"`
	Connected        bool                      `json:"connected"`
	HeartbeatAgeSecs float64                   `json:"heartbeat_age_seconds"`
	DailyTradeCount  int                       `json:"daily_trade_count"`
	PendingCount     int                       `json:"pending_instructions"`
	RecentSignals    []SignalRecord            `json:"recent_signals"`
}

// View aggregates the decision side's observable state. The terminal's
// Status messages are the only source of open-position truth.
type View struct {
	accounts *account.State

	mu            sync.RWMutex
	lastStatus    bridge.StatusMessage
	lastHeartbeat time.Time
	pending       map[string]risk.TradeInstruction
	signals       []SignalRecord
}

// NewView creates an empty view over the shared account state.
func NewView(accounts *account.State) *View {
	return &View{
		accounts: accounts,
		pending:  make(map[string]risk.TradeInstruction),
	}
}

// UpdateStatus records a terminal heartbeat.
func (v *View) UpdateStatus(st bridge.StatusMessage) {
	v.mu.Lock()
	v.lastStatus = st
	v.lastHeartbeat = time.Now()
	v.mu.Unlock()
}

// HeartbeatAge returns the time since the last Status message.
func (v *View) HeartbeatAge() time.Duration {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.lastHeartbeat.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(v.lastHeartbeat)
}

// BridgeHealthy reports whether a heartbeat arrived within the timeout.
func (v *View) BridgeHealthy(timeout time.Duration) bool {
	return v.HeartbeatAge() <= timeout
}

// TrackPending records an issued instruction awaiting its Result.
func (v *View) TrackPending(instr risk.TradeInstruction) {
	v.mu.Lock()
	v.prunePendingLocked(time.Now())
	v.pending[instr.ID] = instr
	v.mu.Unlock()
}

// prunePendingLocked drops instructions whose Result can no longer arrive:
// past expiry plus a grace window for late rejections. Caller must hold v.mu.
func (v *View) prunePendingLocked(now time.Time) {
	for id, instr := range v.pending {
		if !instr.ExpiresAt.IsZero() && now.After(instr.ExpiresAt.Add(pendingGrace)) {
			delete(v.pending, id)
		}
	}
}

// ResolvePending removes the instruction matching a Result. Returns false
// for duplicates and results for instructions this process never issued.
func (v *View) ResolvePending(res bridge.ResultMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pending[res.ID]; !ok {
		return false
	}
	delete(v.pending, res.ID)
	return true
}

// AddSignal appends to the recent-signal ring.
func (v *View) AddSignal(sig confluence.ScoredSignal, verdict shield.Verdict) {
	v.mu.Lock()
	v.signals = append(v.signals, SignalRecord{Signal: sig, Verdict: verdict, SeenAt: time.Now().UTC()})
	if len(v.signals) > recentSignalCap {
		v.signals = v.signals[len(v.signals)-recentSignalCap:]
	}
	v.mu.Unlock()
}

// Snapshot returns a copy of the observable state.
func (v *View) Snapshot(heartbeatTimeout time.Duration) Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prunePendingLocked(time.Now())

	age := time.Duration(1<<63 - 1)
	if !v.lastHeartbeat.IsZero() {
		age = time.Since(v.lastHeartbeat)
	}

	positions := make([]bridge.PositionSnapshot, len(v.lastStatus.OpenPositions))
	copy(positions, v.lastStatus.OpenPositions)

	signals := make([]SignalRecord, len(v.signals))
	copy(signals, v.signals)

	return Snapshot{
		Account:          v.accounts.Get(),
		Positions:        positions,
		Connected:        age <= heartbeatTimeout,
		HeartbeatAgeSecs: age.Seconds(),
		DailyTradeCount:  v.lastStatus.DailyTradeCount,
		PendingCount:     len(v.pending),
		RecentSignals:    signals,
	}
}
