package domain

import "context"

// ConnState is the lifecycle state of the single logical connection to the
// agent backend. Exactly one instance exists per session, owned by the
// transport; everything else only observes it.
type ConnState string

const (
	StateDisconnected     ConnState = "disconnected" // before the first Open
	StateConnecting       ConnState = "connecting"
	StateOpen             ConnState = "open"
	StateClosedByUser     ConnState = "closed-by-user"
	StateClosedUnexpected ConnState = "closed-unexpected"
)

// EventKind discriminates transport events.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventMessage
)

// Event is one item on the transport's ordered event stream. State is set
// for EventStateChanged, Message for EventMessage.
type Event struct {
	Kind    EventKind
	State   ConnState
	Message Message
}

// Transport is one logical connection to the agent backend. Implementations
// deliver state changes and inbound messages on a single ordered channel so
// that one consumer loop can apply them without interleaving.
type Transport interface {
	// Open establishes the connection. It does not block; progress is
	// reported on Events. Calling Open while connecting or open is a no-op.
	Open(ctx context.Context) error

	// Send transmits an outbound envelope. It fails with ErrNotConnected
	// unless the state is open, and never waits for a reply.
	Send(out Outbound) error

	// Events returns the ordered stream of state changes and inbound
	// messages. The stream goes quiet after Close; it is never closed.
	Events() <-chan Event

	// State returns the current connection state.
	State() ConnState

	// Close is the user-initiated shutdown. It suppresses any scheduled
	// reconnection and is idempotent.
	Close() error
}
