package bridge

// Transport is the channel capability the protocol runs over. File-drop and
// socket transports implement it identically so protocol logic stays
// transport-agnostic.
//
// Send queues or writes one envelope; an error means the channel is
// currently unwritable and the caller should retry on its next poll.
// Receive returns every envelope available right now, possibly none;
// an error means the channel is currently unreadable.
type Transport interface {
	Send(env Envelope) error
	Receive() ([]Envelope, error)
	Close() error
}
