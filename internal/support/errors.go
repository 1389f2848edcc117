package support

import "errors"

var (
	// ErrTransportNotConnected is returned when an action requires a live
	// broker connection.
	ErrTransportNotConnected = errors.New("support: transport not connected")
	// ErrNoActiveRoom is returned when an action requires an accepted room.
	ErrNoActiveRoom = errors.New("support: no active room")
	// ErrUserOffline is returned when sending while the user is not
	// reachable in the active room.
	ErrUserOffline = errors.New("support: user is not connected")
	// ErrEmptyMessage is returned when sending blank text.
	ErrEmptyMessage = errors.New("support: empty message")
	// ErrUnknownRoom is returned when accepting a room that is not queued.
	ErrUnknownRoom = errors.New("support: room not in queue")
	// ErrRateLimited is returned when the outbound send budget is exhausted.
	ErrRateLimited = errors.New("support: send rate limit exceeded")
)
