package bridge

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// receiveBuffer bounds the envelopes held between polls.
const receiveBuffer = 256

// SocketTransport runs the protocol over a websocket connection. The
// decision side dials the terminal's listen address; the terminal side
// accepts a single peer. Both directions satisfy Transport identically.
type SocketTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string // empty on the listening side
	logger zerolog.Logger

	incoming chan Envelope
	closed   chan struct{}
	once     sync.Once
}

// ErrNotConnected is returned while the socket peer is absent. Callers
// treat it like any unreachable channel: retry next poll.
var ErrNotConnected = errors.New("socket transport not connected")

// DialSocket connects to a peer's websocket endpoint.
func DialSocket(url string, logger zerolog.Logger) (*SocketTransport, error) {
	t := &SocketTransport{
		url:      url,
		logger:   logger.With().Str("component", "socket_transport").Logger(),
		incoming: make(chan Envelope, receiveBuffer),
		closed:   make(chan struct{}),
	}
	if err := t.dial(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SocketTransport) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.attach(conn)
	return nil
}

// ListenSocket starts an HTTP listener accepting one websocket peer at a
// time. A newly accepted peer replaces the previous connection.
func ListenSocket(addr string, logger zerolog.Logger) (*SocketTransport, error) {
	t := &SocketTransport{
		logger:   logger.With().Str("component", "socket_transport").Logger(),
		incoming: make(chan Envelope, receiveBuffer),
		closed:   make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		t.logger.Info().Str("peer", r.RemoteAddr).Msg("bridge peer connected")
		t.attach(conn)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error().Err(err).Msg("bridge listener failed")
		}
	}()
	go func() {
		<-t.closed
		server.Close()
	}()

	return t, nil
}

// attach installs a connection and starts its read pump.
func (t *SocketTransport) attach(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readPump(conn)
}

func (t *SocketTransport) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.logger.Warn().Err(err).Msg("socket read failed")
			}
			t.detach(conn)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn().Err(err).Msg("malformed socket frame dropped")
			continue
		}

		select {
		case t.incoming <- env:
		default:
			t.logger.Warn().Str("kind", string(env.Kind)).Msg("receive buffer full, envelope dropped")
		}
	}
}

func (t *SocketTransport) detach(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()
}

// Send writes one envelope. On the dialing side a dead connection is
// re-dialed first; on the listening side the send fails until the peer
// reconnects.
func (t *SocketTransport) Send(env Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		if t.url == "" {
			return ErrNotConnected
		}
		if err := t.dial(); err != nil {
			return err
		}
		t.mu.Lock()
		conn = t.conn
		t.mu.Unlock()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("socket write: %w", err)
	}
	return nil
}

// Receive drains whatever the read pump has buffered, without blocking.
func (t *SocketTransport) Receive() ([]Envelope, error) {
	var out []Envelope
	for {
		select {
		case env := <-t.incoming:
			out = append(out, env)
		default:
			return out, nil
		}
	}
}

// Close shuts the transport down.
func (t *SocketTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return nil
}
