package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TickHandler receives every tick read from the feed.
type TickHandler func(Tick)

// Feed is a websocket client for the market data stream. It subscribes to a
// set of instruments, decodes tick payloads and hands them to a callback.
// The connection is re-established with a fixed delay after read failures.
type Feed struct {
	mu sync.Mutex

	url         string
	instruments []string
	handler     TickHandler
	logger      zerolog.Logger

	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	reconnectDelay time.Duration
	pingInterval   time.Duration
	reconnects     int
}

// NewFeed creates a feed client for the given stream URL and instruments.
func NewFeed(url string, instruments []string, handler TickHandler, logger zerolog.Logger) *Feed {
	return &Feed{
		url:            url,
		instruments:    instruments,
		handler:        handler,
		logger:         logger.With().Str("component", "feed").Logger(),
		reconnectDelay: 2 * time.Second,
		pingInterval:   15 * time.Second,
	}
}

type subscribeRequest struct {
	Op          string   `json:"op"`
	Instruments []string `json:"instruments"`
}

// Start connects and launches the read loop. Returns an error only if the
// initial connection fails; later failures reconnect in the background.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isRunning {
		return nil
	}
	if err := f.connect(); err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	f.isRunning = true
	f.stopChan = make(chan struct{})

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()

	f.logger.Info().Str("url", f.url).Strs("instruments", f.instruments).Msg("market feed started")
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.isRunning {
		f.mu.Unlock()
		return
	}
	f.isRunning = false
	close(f.stopChan)
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info().Msg("market feed stopped")
}

// connect dials the stream and sends the subscribe request.
// Caller must hold f.mu.
func (f *Feed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Instruments: f.instruments}); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	f.conn = conn
	return nil
}

func (f *Feed) readLoop() {
	defer f.wg.Done()

	for {
		f.mu.Lock()
		conn := f.conn
		running := f.isRunning
		f.mu.Unlock()

		if !running {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
				return
			default:
			}
			f.logger.Warn().Err(err).Msg("feed read failed, reconnecting")
			f.reconnect()
			continue
		}

		var tick Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			f.logger.Warn().Err(err).Msg("malformed tick payload dropped")
			continue
		}
		if tick.Instrument == "" || tick.Bid <= 0 || tick.Ask <= 0 {
			continue
		}
		if tick.Spread == 0 {
			tick.Spread = tick.Ask - tick.Bid
		}
		if tick.Timestamp.IsZero() {
			tick.Timestamp = time.Now().UTC()
		}
		f.handler(tick)
	}
}

func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopChan:
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != nil {
				f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			f.mu.Unlock()
		}
	}
}

func (f *Feed) reconnect() {
	for {
		select {
		case <-f.stopChan:
			return
		case <-time.After(f.reconnectDelay):
		}

		f.mu.Lock()
		if !f.isRunning {
			f.mu.Unlock()
			return
		}
		if f.conn != nil {
			f.conn.Close()
		}
		err := f.connect()
		if err == nil {
			f.reconnects++
			f.logger.Info().Int("reconnects", f.reconnects).Msg("market feed reconnected")
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()
		f.logger.Warn().Err(err).Msg("feed reconnect failed, retrying")
	}
}
