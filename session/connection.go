package session

// Connection is the transport a session exchanges frames over.
// ReadMessage blocks until a frame arrives and returns io.EOF once the peer
// closed cleanly; Close unblocks a pending ReadMessage. WriteMessage must be
// safe for concurrent use.
type Connection interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}
