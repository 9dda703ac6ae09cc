package terminal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-bot/internal/bridge"
)

// Heartbeat emits a Status message at a fixed cadence regardless of trading
// activity. Its absence beyond a timeout is the decision side's only signal
// of bridge failure.
type Heartbeat struct {
	client    *bridge.Client
	broker    Broker
	lifecycle *LifecycleManager
	intake    *Intake
	interval  time.Duration
	logger    zerolog.Logger
}

// NewHeartbeat creates the Status emitter.
func NewHeartbeat(client *bridge.Client, broker Broker, lifecycle *LifecycleManager, intake *Intake, interval time.Duration, logger zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Heartbeat{
		client:    client,
		broker:    broker,
		lifecycle: lifecycle,
		intake:    intake,
		interval:  interval,
		logger:    logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Run emits Status until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.emit()
		}
	}
}

func (h *Heartbeat) emit() {
	status := bridge.StatusMessage{
		Type:            "heartbeat",
		Timestamp:       time.Now().UTC(),
		Connected:       true,
		OpenPositions:   h.lifecycle.Snapshots(),
		DailyTradeCount: h.intake.DailyFillCount(),
		Account:         accountInfo(h.broker),
	}

	env, err := bridge.NewEnvelope(bridge.KindStatus, status)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode status failed")
		return
	}
	h.client.Send(env)
}
