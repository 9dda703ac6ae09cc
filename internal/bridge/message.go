// Package bridge implements the idempotent protocol between the decision
// side and the trading terminal. Delivery is at-least-once over an
// unreliable channel; both sides deduplicate by instruction fingerprint and
// tolerate duplicated or reordered messages.
package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind tags the message variant carried by an envelope.
type Kind string

const (
	KindInstruction Kind = "instruction"
	KindResult      Kind = "result"
	KindStatus      Kind = "status"
	KindTelemetry   Kind = "telemetry"
)

// Envelope is the transport-level wrapper. The envelope ID identifies the
// transmission, not the instruction: retransmissions of one instruction
// carry fresh envelope IDs but the same payload fingerprint.
type Envelope struct {
	ID      string              `json:"id"`
	Kind    Kind                `json:"kind"`
	SentAt  time.Time           `json:"sent_at"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// Action is the instruction verb executed by the terminal.
type Action string

const (
	ActionCreate       Action = "create"
	ActionModify       Action = "modify"
	ActionClose        Action = "close"
	ActionClosePartial Action = "close_partial"
	ActionTrail        Action = "trail"
	ActionBreakEven    Action = "break_even"
)

var knownActions = map[Action]bool{
	ActionCreate:       true,
	ActionModify:       true,
	ActionClose:        true,
	ActionClosePartial: true,
	ActionTrail:        true,
	ActionBreakEven:    true,
}

// InstructionMessage is the wire form of a trade instruction.
type InstructionMessage struct {
	ID          string    `json:"id"`
	Action      Action    `json:"action"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Volume      float64   `json:"volume"`
	Price       float64   `json:"price"`
	StopLoss    float64   `json:"sl"`
	TakeProfit  float64   `json:"tp"`
	TakeProfit2 float64   `json:"tp2"`
	TakeProfit3 float64   `json:"tp3"`
	Volume2     float64   `json:"vol2"`
	Volume3     float64   `json:"vol3"`
	Ticket      int64     `json:"ticket,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ResultStatus is the terminal's outcome for one instruction.
type ResultStatus string

const (
	StatusFilled   ResultStatus = "filled"
	StatusRejected ResultStatus = "rejected"
	StatusFailed   ResultStatus = "failed"
)

// AccountInfo mirrors the terminal account snapshot on the wire.
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
}

// ResultMessage reports the outcome of an instruction.
type ResultMessage struct {
	ID      string       `json:"id"`
	Status  ResultStatus `json:"status"`
	Ticket  int64        `json:"ticket,omitempty"`
	Message string       `json:"message,omitempty"`
	Price   float64      `json:"price,omitempty"`
	Account AccountInfo  `json:"account"`
}

// PositionSnapshot is one element of the terminal's position summary.
type PositionSnapshot struct {
	Ticket           int64   `json:"ticket"`
	Symbol           string  `json:"symbol"`
	Direction        string  `json:"direction"`
	Volume           float64 `json:"volume"`
	InitialVolume    float64 `json:"initial_volume"`
	OpenPrice        float64 `json:"open_price"`
	StopLoss         float64 `json:"sl"`
	TakeProfit       float64 `json:"tp"`
	Profit           float64 `json:"profit"`
	PnLPercent       float64 `json:"pnl_percent"`
	BreakEvenSet     bool    `json:"break_even_set"`
	PartialCloseStep int     `json:"partial_close_step"`
	TrailingActive   bool    `json:"trailing_active"`
}

// StatusMessage is the periodic heartbeat with full account and position
// state. The decision side trusts no other source for open-position state.
type StatusMessage struct {
	Type            string             `json:"type"`
	Message         string             `json:"message,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	Connected       bool               `json:"connected"`
	OpenPositions   []PositionSnapshot `json:"open_positions"`
	DailyTradeCount int                `json:"daily_trade_count"`
	Account         AccountInfo        `json:"account"`
}

// TelemetryMessage is an optional tick relay from the terminal.
type TelemetryMessage struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Volume     float64   `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParseError is a typed decode/validation failure at the protocol boundary.
// Malformed input yields a ParseError, never a silent default.
type ParseError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse %s message: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s message: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrUnknownKind is wrapped by ParseError for unrecognized envelope kinds.
var ErrUnknownKind = errors.New("unknown message kind")

// NewEnvelope wraps a payload into a transmission envelope.
func NewEnvelope(kind Kind, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		SentAt:  time.Now().UTC(),
		Payload: raw,
	}, nil
}

// Decode parses the envelope payload into its typed message. The payload is
// parsed exactly once, at this boundary.
func Decode(env Envelope) (interface{}, error) {
	switch env.Kind {
	case KindInstruction:
		var m InstructionMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &ParseError{Kind: env.Kind, Err: err}
		}
		if err := validateInstruction(m); err != nil {
			return nil, err
		}
		return m, nil
	case KindResult:
		var m ResultMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &ParseError{Kind: env.Kind, Err: err}
		}
		if m.ID == "" {
			return nil, &ParseError{Kind: env.Kind, Field: "id", Err: errors.New("empty")}
		}
		return m, nil
	case KindStatus:
		var m StatusMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &ParseError{Kind: env.Kind, Err: err}
		}
		return m, nil
	case KindTelemetry:
		var m TelemetryMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &ParseError{Kind: env.Kind, Err: err}
		}
		return m, nil
	default:
		return nil, &ParseError{Kind: env.Kind, Err: ErrUnknownKind}
	}
}

// validateInstruction checks the structural fields of an instruction.
// Broker-specific checks (symbol known, lot bounds) happen terminal-side.
func validateInstruction(m InstructionMessage) error {
	if m.ID == "" {
		return &ParseError{Kind: KindInstruction, Field: "id", Err: errors.New("empty")}
	}
	if !knownActions[m.Action] {
		return &ParseError{Kind: KindInstruction, Field: "action", Err: fmt.Errorf("unknown action %q", m.Action)}
	}
	if m.Symbol == "" {
		return &ParseError{Kind: KindInstruction, Field: "symbol", Err: errors.New("empty")}
	}
	if m.Action == ActionCreate {
		if m.Direction != "BUY" && m.Direction != "SELL" {
			return &ParseError{Kind: KindInstruction, Field: "direction", Err: fmt.Errorf("unknown direction %q", m.Direction)}
		}
		if m.Volume <= 0 {
			return &ParseError{Kind: KindInstruction, Field: "volume", Err: fmt.Errorf("non-positive volume %v", m.Volume)}
		}
	}
	return nil
}
