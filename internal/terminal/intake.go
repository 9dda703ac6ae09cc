package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/market"
)

// processedTTL bounds how long acknowledged fingerprints are remembered for
// duplicate re-acknowledgement.
const processedTTL = 24 * time.Hour

type processedResult struct {
	result bridge.ResultMessage
	at     time.Time
}

// Intake consumes instructions from the bridge, validates every field
// defensively, deduplicates by fingerprint and dispatches to the executor
// or the lifecycle manager. Malformed instructions are acknowledged with a
// rejection Result, never silently dropped.
type Intake struct {
	client    *bridge.Client
	executor  *Executor
	lifecycle *LifecycleManager
	broker    Broker
	specs     map[string]market.InstrumentSpec
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	processed map[string]processedResult
	dayKey    string
	fills     int
}

// NewIntake wires the intake into the bridge client's dispatch. loc sets the
// day boundary for the fill counter, matching the decision side's daily
// reset timezone; nil means UTC.
func NewIntake(client *bridge.Client, executor *Executor, lifecycle *LifecycleManager, broker Broker, specs map[string]market.InstrumentSpec, loc *time.Location, logger zerolog.Logger) *Intake {
	if loc == nil {
		loc = time.UTC
	}
	i := &Intake{
		client:    client,
		executor:  executor,
		lifecycle: lifecycle,
		broker:    broker,
		specs:     specs,
		loc:       loc,
		logger:    logger.With().Str("component", "intake").Logger(),
		now:       time.Now,
		processed: make(map[string]processedResult),
	}
	client.OnMessage(bridge.KindInstruction, i.handleInstruction)
	client.OnDecodeError(i.handleMalformed)
	return i
}

// DailyFillCount returns today's executed create count for the heartbeat.
func (i *Intake) DailyFillCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rolloverLocked()
	return i.fills
}

func (i *Intake) handleInstruction(env bridge.Envelope, msg interface{}) {
	m, ok := msg.(bridge.InstructionMessage)
	if !ok {
		return
	}
	ctx := context.Background()

	// At-least-once delivery: a fingerprint we already acted on is
	// re-acknowledged with the original Result, never re-executed.
	if prev, dup := i.seen(m.ID); dup {
		i.logger.Debug().Str("id", m.ID).Msg("duplicate instruction re-acknowledged")
		i.reply(prev)
		return
	}

	if !m.ExpiresAt.IsZero() && time.Now().After(m.ExpiresAt) {
		i.finish(m.ID, bridge.ResultMessage{
			ID:      m.ID,
			Status:  bridge.StatusRejected,
			Message: fmt.Sprintf("instruction expired at %s", m.ExpiresAt.Format(time.RFC3339)),
			Account: accountInfo(i.broker),
		}, false)
		return
	}

	if result, bad := i.checkFields(m); bad {
		i.finish(m.ID, result, false)
		return
	}

	switch m.Action {
	case bridge.ActionCreate:
		result := i.executor.ExecuteCreate(ctx, m)
		i.finish(m.ID, result, result.Status == bridge.StatusFilled)
	case bridge.ActionModify:
		i.finish(m.ID, i.commandResult(m, i.lifecycle.ModifyStops(m.Ticket, m.StopLoss, m.TakeProfit)), false)
	case bridge.ActionClose:
		i.finish(m.ID, i.commandResult(m, i.lifecycle.Close(ctx, m.Ticket)), false)
	case bridge.ActionClosePartial:
		i.finish(m.ID, i.commandResult(m, i.lifecycle.ClosePartial(ctx, m.Ticket, m.Volume)), false)
	case bridge.ActionTrail:
		// The sl field carries the trailing distance in pips for trail actions.
		i.finish(m.ID, i.commandResult(m, i.lifecycle.EnableTrailing(m.Ticket, m.StopLoss)), false)
	case bridge.ActionBreakEven:
		i.finish(m.ID, i.commandResult(m, i.lifecycle.ForceBreakEven(m.Ticket)), false)
	default:
		i.finish(m.ID, bridge.ResultMessage{
			ID:      m.ID,
			Status:  bridge.StatusRejected,
			Message: fmt.Sprintf("unsupported action %q", m.Action),
			Account: accountInfo(i.broker),
		}, false)
	}
}

// checkFields re-validates business fields against the broker contract:
// the bridge only guarantees structural validity.
func (i *Intake) checkFields(m bridge.InstructionMessage) (bridge.ResultMessage, bool) {
	reject := func(format string, args ...interface{}) (bridge.ResultMessage, bool) {
		return bridge.ResultMessage{
			ID:      m.ID,
			Status:  bridge.StatusRejected,
			Message: fmt.Sprintf(format, args...),
			Account: accountInfo(i.broker),
		}, true
	}

	spec, known := i.specs[m.Symbol]
	if !known {
		return reject("unknown symbol %q", m.Symbol)
	}

	if m.Action == bridge.ActionCreate {
		if !spec.Tradable {
			return reject("symbol %s not tradable", m.Symbol)
		}
		if m.Volume < spec.MinLot || m.Volume > spec.MaxLot {
			return reject("volume %v outside lot bounds [%v, %v]", m.Volume, spec.MinLot, spec.MaxLot)
		}
	}
	return bridge.ResultMessage{}, false
}

func (i *Intake) commandResult(m bridge.InstructionMessage, err error) bridge.ResultMessage {
	if err != nil {
		return bridge.ResultMessage{
			ID:      m.ID,
			Status:  bridge.StatusRejected,
			Message: err.Error(),
			Ticket:  m.Ticket,
			Account: accountInfo(i.broker),
		}
	}
	return bridge.ResultMessage{
		ID:      m.ID,
		Status:  bridge.StatusFilled,
		Ticket:  m.Ticket,
		Account: accountInfo(i.broker),
	}
}

// handleMalformed acknowledges undecodable instruction envelopes with a
// rejection Result, extracting the id best-effort from the raw payload.
func (i *Intake) handleMalformed(env bridge.Envelope, err error) {
	if env.Kind != bridge.KindInstruction {
		i.logger.Warn().Err(err).Str("kind", string(env.Kind)).Msg("malformed envelope dropped")
		return
	}

	id := jsoniter.Get(env.Payload, "id").ToString()
	if id == "" {
		id = env.ID // fall back to the envelope id so the sender can correlate
	}
	i.logger.Warn().Err(err).Str("id", id).Msg("malformed instruction rejected")
	i.reply(bridge.ResultMessage{
		ID:      id,
		Status:  bridge.StatusRejected,
		Message: fmt.Sprintf("malformed instruction: %v", err),
		Account: accountInfo(i.broker),
	})
}

// finish records the outcome for duplicate suppression and sends it.
func (i *Intake) finish(id string, result bridge.ResultMessage, filled bool) {
	i.mu.Lock()
	i.pruneLocked()
	i.processed[id] = processedResult{result: result, at: time.Now()}
	if filled {
		i.rolloverLocked()
		i.fills++
	}
	i.mu.Unlock()
	i.reply(result)
}

func (i *Intake) reply(result bridge.ResultMessage) {
	env, err := bridge.NewEnvelope(bridge.KindResult, result)
	if err != nil {
		i.logger.Error().Err(err).Msg("encode result failed")
		return
	}
	i.client.Send(env)
}

func (i *Intake) seen(id string) (bridge.ResultMessage, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.processed[id]
	return p.result, ok
}

// pruneLocked evicts fingerprints past the TTL. Caller must hold i.mu.
func (i *Intake) pruneLocked() {
	cutoff := time.Now().Add(-processedTTL)
	for id, p := range i.processed {
		if p.at.Before(cutoff) {
			delete(i.processed, id)
		}
	}
}

// rolloverLocked resets the fill count at the configured day boundary.
// Caller must hold i.mu.
func (i *Intake) rolloverLocked() {
	key := i.now().In(i.loc).Format("20060102")
	if key != i.dayKey {
		i.dayKey = key
		i.fills = 0
	}
}
