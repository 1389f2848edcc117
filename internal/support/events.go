package support

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// Broker topics and application destinations for the support hand-off flow.
const (
	// QueueTopic carries hand-off requests and user-disconnect events for
	// the shared pending queue.
	QueueTopic = "/topic/support.queue"

	handoffAcceptDest   = "/app/support.handoff.accept"
	agentDisconnectDest = "/app/support.agent.disconnect"
)

// RoomTopic returns the broker topic of a 1:1 support room.
func RoomTopic(roomID string) string {
	return "/topic/rooms/" + roomID
}

func roomSendDest(roomID string) string {
	return "/app/support.send/" + roomID
}

// Queue event types.
const (
	queueEventHandoffRequested = "HANDOFF_REQUESTED"
	queueEventUserDisconnected = "USER_DISCONNECTED"
)

// QueueEvent is an event delivered on the pending-queue topic.
type QueueEvent struct {
	Event        string `json:"event"`
	RoomID       string `json:"roomId"`
	UserName     string `json:"userName"`
	UserNickname string `json:"userNickname"`
}

func parseQueueEvent(body []byte) (QueueEvent, error) {
	var ev QueueEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return QueueEvent{}, fmt.Errorf("parse queue event: %w", err)
	}
	return ev, nil
}

// Fingerprint returns the dedup key for a queue event.
func (e QueueEvent) Fingerprint() string {
	return fmt.Sprintf("queue-%s-%s", e.Event, e.RoomID)
}

// Room message type tags.
const (
	msgTypeHandoffAccepted   = "HANDOFF_ACCEPTED"
	msgTypeUserDisconnected  = "USER_DISCONNECTED"
	msgTypeAgentDisconnected = "AGENT_DISCONNECTED"
	msgTypeText              = "TEXT"

	wireRoleSystem = "SYSTEM"
	wireRoleUser   = "USER"
)

// RoomMessage is a payload delivered on a room topic. The upstream server
// is loose about field names: chat text arrives as either "text" or
// "content", and system notices may carry only a role and free text.
type RoomMessage struct {
	Type         string `json:"type"`
	Role         string `json:"role"`
	Text         string `json:"text"`
	Content      string `json:"content"`
	UserName     string `json:"userName"`
	UserNickname string `json:"userNickname"`
}

// BodyText returns the message text, whichever field it arrived in.
func (m RoomMessage) BodyText() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Content
}

// RoomEventKind classifies a room message. Classification is total: every
// payload falls into exactly one kind, with plain chat as the designated
// fallback for unrecognized type tags.
type RoomEventKind int

const (
	// RoomEventSystemText is a free-text notice with a SYSTEM role and no
	// recognized type tag.
	RoomEventSystemText RoomEventKind = iota
	// RoomEventHandoffAccepted confirms the hand-off; carries the
	// requester's display names.
	RoomEventHandoffAccepted
	// RoomEventUserDisconnected signals the user left the room.
	RoomEventUserDisconnected
	// RoomEventAgentDisconnected echoes the agent's own disconnect.
	RoomEventAgentDisconnected
	// RoomEventChat is a plain chat line.
	RoomEventChat
	// RoomEventEmpty is a payload with no text and no recognized tag;
	// nothing to display.
	RoomEventEmpty
)

// Classify determines the kind of a room message.
func (m RoomMessage) Classify() RoomEventKind {
	switch m.Type {
	case msgTypeHandoffAccepted:
		return RoomEventHandoffAccepted
	case msgTypeUserDisconnected:
		return RoomEventUserDisconnected
	case msgTypeAgentDisconnected:
		return RoomEventAgentDisconnected
	}
	if m.Role == wireRoleSystem && m.BodyText() != "" {
		return RoomEventSystemText
	}
	if m.BodyText() != "" {
		return RoomEventChat
	}
	return RoomEventEmpty
}

// Fingerprint returns the dedup key for a room message. The key includes a
// hash of the message text: two distinct messages with identical text
// inside the dedup window are indistinguishable and the second is dropped.
// Known limitation until the server assigns message ids.
func (m RoomMessage) Fingerprint(roomID string) string {
	h := fnv.New64a()
	h.Write([]byte(m.BodyText()))
	return fmt.Sprintf("room-%s-%s-%s-%x", m.Type, m.Role, roomID, h.Sum64())
}

// containsAny reports whether text contains any of the phrases,
// case-insensitively.
func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// displayName returns name, or a placeholder when the requester did not
// provide one.
func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "user"
	}
	return name
}

// Outbound payloads.

type acceptSignal struct {
	RoomID string `json:"roomId"`
}

type disconnectSignal struct {
	RoomID string `json:"roomId"`
}

type chatMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}
