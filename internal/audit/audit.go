// Package audit persists an append-only record of signals, instructions and
// results to Postgres. The recorder is optional: a nil *Recorder is a no-op,
// so the pipeline runs unchanged without a database.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/risk"
	"smc-trading-bot/internal/shield"
)

// Recorder writes audit rows through a pgx connection pool.
type Recorder struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*Recorder, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Recorder{
		pool:   pool,
		logger: logger.With().Str("component", "audit").Logger(),
	}, nil
}

// Close releases the pool.
func (r *Recorder) Close() {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
}

// RunMigrations creates the audit tables if they do not exist.
func (r *Recorder) RunMigrations(ctx context.Context) error {
	if r == nil {
		return nil
	}
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			instrument TEXT NOT NULL,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			entry DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			session TEXT NOT NULL,
			shield_tier TEXT NOT NULL,
			shield_agreement DOUBLE PRECISION NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS instructions (
			id BIGSERIAL PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			action TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			take_profit DOUBLE PRECISION NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instructions_fingerprint ON instructions (fingerprint)`,
		`CREATE TABLE IF NOT EXISTS results (
			id BIGSERIAL PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			status TEXT NOT NULL,
			ticket BIGINT,
			price DOUBLE PRECISION,
			message TEXT,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_fingerprint ON results (fingerprint)`,
	}

	for _, stmt := range migrations {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	r.logger.Info().Msg("audit migrations applied")
	return nil
}

// RecordSignal stores a scored signal with its shield verdict.
func (r *Recorder) RecordSignal(ctx context.Context, sig confluence.ScoredSignal, verdict shield.Verdict) {
	if r == nil {
		return
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO signals (instrument, kind, direction, timeframe, entry, stop_loss, confidence, session, shield_tier, shield_agreement, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sig.Instrument, string(sig.Kind), string(sig.Direction), string(sig.Timeframe),
		sig.Entry, sig.StopLoss, sig.Confidence, string(sig.SessionTag),
		string(verdict.Tier), verdict.Agreement, sig.DetectedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("instrument", sig.Instrument).Msg("record signal failed")
	}
}

// RecordInstruction stores an issued trade instruction.
func (r *Recorder) RecordInstruction(ctx context.Context, ins risk.TradeInstruction) {
	if r == nil {
		return
	}
	var firstTP float64
	if len(ins.TakeProfits) > 0 {
		firstTP = ins.TakeProfits[0]
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO instructions (fingerprint, action, symbol, direction, volume, stop_loss, take_profit, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ins.ID, "create", ins.Instrument, string(ins.Direction),
		ins.Volume, ins.StopLoss, firstTP, ins.IssuedAt, ins.ExpiresAt,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("fingerprint", ins.ID).Msg("record instruction failed")
	}
}

// RecordResult stores a terminal acknowledgement.
func (r *Recorder) RecordResult(ctx context.Context, res bridge.ResultMessage) {
	if r == nil {
		return
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO results (fingerprint, status, ticket, price, message)
		 VALUES ($1, $2, $3, $4, $5)`,
		res.ID, string(res.Status), res.Ticket, res.Price, res.Message,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("fingerprint", res.ID).Msg("record result failed")
	}
}
