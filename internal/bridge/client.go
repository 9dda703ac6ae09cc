package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler consumes one decoded message.
type Handler func(env Envelope, msg interface{})

// DecodeErrorHandler sees envelopes that failed to decode or validate, so
// the terminal can acknowledge malformed instructions with a rejection
// Result instead of dropping them silently.
type DecodeErrorHandler func(env Envelope, err error)

type queued struct {
	env       Envelope
	expiresAt time.Time // zero means never expires
}

// Client runs one side of the protocol: a fixed-interval poll loop that
// flushes queued sends and dispatches received messages. Sends are
// fire-and-forget against the channel; an unwritable channel keeps the
// envelope queued for the next poll. Instructions are never retried past
// their expiry.
type Client struct {
	transport    Transport
	pollInterval time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	queue    []queued
	handlers map[Kind][]Handler
	onError  []DecodeErrorHandler
}

// NewClient creates a protocol client over the given transport.
func NewClient(transport Transport, pollInterval time.Duration, logger zerolog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Client{
		transport:    transport,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "bridge").Logger(),
		handlers:     make(map[Kind][]Handler),
	}
}

// OnMessage registers a handler for a message kind. Must be called before Run.
func (c *Client) OnMessage(kind Kind, h Handler) {
	c.mu.Lock()
	c.handlers[kind] = append(c.handlers[kind], h)
	c.mu.Unlock()
}

// OnDecodeError registers a malformed-envelope handler. Must be called before Run.
func (c *Client) OnDecodeError(h DecodeErrorHandler) {
	c.mu.Lock()
	c.onError = append(c.onError, h)
	c.mu.Unlock()
}

// Send queues an envelope for delivery on the next poll.
func (c *Client) Send(env Envelope) {
	c.enqueue(env, time.Time{})
}

// SendWithExpiry queues an envelope that is dropped, not retried, once
// expiresAt passes.
func (c *Client) SendWithExpiry(env Envelope, expiresAt time.Time) {
	c.enqueue(env, expiresAt)
}

func (c *Client) enqueue(env Envelope, expiresAt time.Time) {
	c.mu.Lock()
	c.queue = append(c.queue, queued{env: env, expiresAt: expiresAt})
	c.mu.Unlock()
}

// Run polls until the context is cancelled.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.transport.Close()
			return
		case <-ticker.C:
			c.flush()
			c.drain()
		}
	}
}

// flush attempts delivery of every queued envelope. Envelopes the channel
// rejects stay queued; expired ones are dropped with a log line.
func (c *Client) flush() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	now := time.Now()
	var remaining []queued
	for _, q := range pending {
		if !q.expiresAt.IsZero() && now.After(q.expiresAt) {
			c.logger.Warn().
				Str("envelope", q.env.ID).
				Str("kind", string(q.env.Kind)).
				Msg("queued envelope expired before delivery")
			continue
		}
		if err := c.transport.Send(q.env); err != nil {
			// BridgeUnreachable: keep for the next poll.
			c.logger.Debug().Err(err).Str("kind", string(q.env.Kind)).Msg("send deferred")
			remaining = append(remaining, q)
		}
	}

	if len(remaining) > 0 {
		c.mu.Lock()
		c.queue = append(remaining, c.queue...)
		c.mu.Unlock()
	}
}

// drain receives and dispatches everything currently available.
func (c *Client) drain() {
	envs, err := c.transport.Receive()
	if err != nil {
		c.logger.Debug().Err(err).Msg("receive failed, retrying next poll")
		return
	}

	for _, env := range envs {
		msg, err := Decode(env)
		if err != nil {
			c.mu.Lock()
			errHandlers := c.onError
			c.mu.Unlock()
			if len(errHandlers) == 0 {
				c.logger.Warn().Err(err).Str("envelope", env.ID).Msg("malformed envelope dropped")
			}
			for _, h := range errHandlers {
				h(env, err)
			}
			continue
		}

		c.mu.Lock()
		handlers := c.handlers[env.Kind]
		c.mu.Unlock()
		for _, h := range handlers {
			h(env, msg)
		}
	}
}
