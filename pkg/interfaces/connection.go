package interfaces

// Conn is the view of a live client connection that routing and session
// code is allowed to see. All implementations must be safe for concurrent
// use; WriteJSON must never block longer than its internal send buffer
// allows, so a slow reader degrades only its own delivery.
type Conn interface {
	// WriteJSON queues a JSON frame for the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close tears down the connection and releases its writer goroutine.
	Close() error

	// ID returns the server-assigned opaque connection id.
	ID() string

	// Role returns "teacher" or "student" once registered, "" before.
	Role() string

	// Language returns the connection's registered language code.
	Language() string

	// ClassroomCode returns the bound classroom code, "" while unbound.
	ClassroomCode() string

	// IsRegistered reports whether a register frame has been accepted.
	IsRegistered() bool
}
