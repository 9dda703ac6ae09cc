package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// pair builds the two sides of a file bridge sharing swapped directories.
func pair(t *testing.T) (*FileTransport, *FileTransport) {
	t.Helper()
	dirA := t.TempDir()
	dirB := t.TempDir()

	decision, err := NewFileTransport(dirA, dirB, zerolog.Nop())
	if err != nil {
		t.Fatalf("decision transport: %v", err)
	}
	terminal, err := NewFileTransport(dirB, dirA, zerolog.Nop())
	if err != nil {
		t.Fatalf("terminal transport: %v", err)
	}
	return decision, terminal
}

func TestFileTransportRoundTrip(t *testing.T) {
	decision, terminal := pair(t)

	env, err := NewEnvelope(KindInstruction, validInstruction())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := decision.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := terminal.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("received %d envelopes, want 1", len(got))
	}
	if got[0].ID != env.ID || got[0].Kind != env.Kind {
		t.Errorf("received %+v, want %+v", got[0], env)
	}

	// Drained: a second receive is empty.
	got, err = terminal.Receive()
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("second Receive = %d envelopes, want 0", len(got))
	}
}

func TestFileTransportPreservesSendOrder(t *testing.T) {
	decision, terminal := pair(t)

	var ids []string
	for i := 0; i < 5; i++ {
		env, err := NewEnvelope(KindStatus, StatusMessage{Type: "heartbeat"})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		if err := decision.Send(env); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		ids = append(ids, env.ID)
		time.Sleep(time.Millisecond) // distinct nanosecond prefixes
	}

	got, err := terminal.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("received %d envelopes, want %d", len(got), len(ids))
	}
	for i, env := range got {
		if env.ID != ids[i] {
			t.Errorf("envelope %d = %s, want %s", i, env.ID, ids[i])
		}
	}
}

func TestFileTransportRemovesMalformedDrops(t *testing.T) {
	decision, terminal := pair(t)

	env, err := NewEnvelope(KindResult, ResultMessage{ID: "ok", Status: StatusFilled})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := decision.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A corrupt drop sits alongside the good one.
	bad := filepath.Join(terminal.inbox, "0000000000_garbage.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt drop: %v", err)
	}

	got, err := terminal.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 1 || got[0].ID != env.ID {
		t.Fatalf("received %v, want only the valid envelope", got)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("corrupt drop not removed")
	}
}

func TestFileTransportIgnoresTempFiles(t *testing.T) {
	_, terminal := pair(t)

	// A half-written temp file must never be picked up.
	tmp := filepath.Join(terminal.inbox, ".123_partial.json.tmp")
	if err := os.WriteFile(tmp, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	got, err := terminal.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("received %d envelopes, want 0", len(got))
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Error("temp file removed prematurely")
	}
}
