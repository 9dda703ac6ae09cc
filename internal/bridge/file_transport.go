package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileTransport exchanges envelopes through drop directories, the classic
// terminal-integration channel. Writes are atomic (temp file + rename) so a
// reader never observes a partial message. Each side writes into the peer's
// inbox and drains its own.
type FileTransport struct {
	inbox  string
	outbox string
	logger zerolog.Logger
}

// NewFileTransport creates a file-drop transport. Both directories are
// created if missing.
func NewFileTransport(inbox, outbox string, logger zerolog.Logger) (*FileTransport, error) {
	for _, dir := range []string{inbox, outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transport dir %s: %w", dir, err)
		}
	}
	return &FileTransport{
		inbox:  inbox,
		outbox: outbox,
		logger: logger.With().Str("component", "file_transport").Logger(),
	}, nil
}

// Send writes the envelope as a timestamp-ordered JSON drop file.
func (t *FileTransport) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	// Nanosecond prefix keeps directory order close to send order.
	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), uuid.NewString()[:8])
	tmp := filepath.Join(t.outbox, "."+name+".tmp")
	final := filepath.Join(t.outbox, name)

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write drop file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish drop file: %w", err)
	}
	return nil
}

// Receive drains the inbox, oldest drop first. Unreadable or malformed
// files are removed and logged so one bad drop cannot wedge the loop.
func (t *FileTransport) Receive() ([]Envelope, error) {
	entries, err := os.ReadDir(t.inbox)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Envelope
	for _, name := range names {
		path := filepath.Join(t.inbox, name)
		data, err := os.ReadFile(path)
		if err != nil {
			t.logger.Warn().Err(err).Str("file", name).Msg("unreadable drop file removed")
			os.Remove(path)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn().Err(err).Str("file", name).Msg("malformed drop file removed")
			os.Remove(path)
			continue
		}

		os.Remove(path)
		out = append(out, env)
	}
	return out, nil
}

// Close is a no-op for the file transport.
func (t *FileTransport) Close() error { return nil }
