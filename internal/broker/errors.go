package broker

import "errors"

var (
	// ErrNotConnected is returned when an operation requires a live
	// connection.
	ErrNotConnected = errors.New("broker: not connected")
	// ErrAlreadySubscribed is returned when a topic already has an active
	// subscription on this connection.
	ErrAlreadySubscribed = errors.New("broker: topic already subscribed")
	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("broker: connection closed")
)
