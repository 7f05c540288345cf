package interfaces

// Connection is one live client transport endpoint
// ARCHITECTURAL DISCOVERY: Router and presence only see this abstraction,
// so TCP, WebSocket and test pipes are interchangeable
type Connection interface {
	// ID returns the server-generated connection identifier
	ID() string

	// RemoteAddr returns the peer address as host:port
	RemoteAddr() string

	// ReadFrame blocks until the next request frame arrives.
	// io.EOF signals an orderly close by the peer.
	ReadFrame() ([]byte, error)

	// WriteLine sends one text line to the client. Safe for concurrent use.
	WriteLine(line string) error

	// Close closes the transport. Idempotent.
	Close() error
}
