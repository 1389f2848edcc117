package broker

import "encoding/json"

// Frame commands sent by the client. The broker speaks a minimal
// topic/destination protocol over a single WebSocket: the client subscribes
// to topics, the server pushes frames tagged with the topic they belong to,
// and application messages are sent to /app/... destinations.
const (
	commandSubscribe   = "SUBSCRIBE"
	commandUnsubscribe = "UNSUBSCRIBE"
	commandSend        = "SEND"
)

// clientFrame is the envelope for everything the client writes.
type clientFrame struct {
	Command     string          `json:"command"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// serverFrame is the envelope for everything the server pushes. Body is
// left raw: payload interpretation belongs to the subscriber.
type serverFrame struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}
