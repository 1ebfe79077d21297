package session

import "errors"

// Transports and collaborators wrap their errors with these, so that the
// session loop can decide what is fatal.
var (
	// A frame could not be decoded. The frame is skipped, and the session continues.
	ErrDecode = errors.New("decode error")

	// The detector failed or timed out. The cycle falls back to track continuation.
	ErrDetector = errors.New("detector error")

	// Send or receive failed at the connection boundary. Fatal to the session.
	ErrTransport = errors.New("transport error")

	// The client closed the connection normally. The session ends without error.
	ErrClientDisconnected = errors.New("client disconnected")
)
