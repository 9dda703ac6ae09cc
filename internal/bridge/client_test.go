package bridge

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestClientDropsExpiredQueuedEnvelopes(t *testing.T) {
	decision, terminal := pair(t)
	client := NewClient(decision, 10*time.Millisecond, zerolog.Nop())

	env, err := NewEnvelope(KindInstruction, validInstruction())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	client.SendWithExpiry(env, time.Now().Add(-time.Second))
	client.flush()

	got, err := terminal.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expired envelope was delivered: %v", got)
	}
}

func TestClientDeliversAndDispatches(t *testing.T) {
	decision, terminal := pair(t)

	sender := NewClient(decision, 10*time.Millisecond, zerolog.Nop())
	receiver := NewClient(terminal, 10*time.Millisecond, zerolog.Nop())

	var seen []InstructionMessage
	receiver.OnMessage(KindInstruction, func(env Envelope, msg interface{}) {
		if m, ok := msg.(InstructionMessage); ok {
			seen = append(seen, m)
		}
	})

	env, err := NewEnvelope(KindInstruction, validInstruction())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	sender.Send(env)
	sender.flush()
	receiver.drain()

	if len(seen) != 1 {
		t.Fatalf("dispatched %d instructions, want 1", len(seen))
	}
	if seen[0].ID != "a1b2c3" {
		t.Errorf("dispatched id = %s", seen[0].ID)
	}
}

func TestClientRoutesDecodeErrors(t *testing.T) {
	decision, terminal := pair(t)

	sender := NewClient(decision, 10*time.Millisecond, zerolog.Nop())
	receiver := NewClient(terminal, 10*time.Millisecond, zerolog.Nop())

	var failures []error
	receiver.OnDecodeError(func(env Envelope, err error) {
		failures = append(failures, err)
	})
	receiver.OnMessage(KindInstruction, func(env Envelope, msg interface{}) {
		t.Error("malformed instruction dispatched as valid")
	})

	bad := validInstruction()
	bad.Direction = "SIDEWAYS"
	env, err := NewEnvelope(KindInstruction, bad)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	sender.Send(env)
	sender.flush()
	receiver.drain()

	if len(failures) != 1 {
		t.Fatalf("decode errors = %d, want 1", len(failures))
	}
}
