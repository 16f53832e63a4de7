package core

// Frame is a raw wire payload (JSON-encoded signaling message).
type Frame []byte

// ConnID identifies one connected client for the lifetime of its socket.
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Transport is the router's only way out. Delivery is best-effort: a missing
// or slow connection is never an error the router has to handle.
type Transport interface {
	SendTo(id ConnID, v any)
}
