package models

import "encoding/json"

// Channel message kinds
const (
	MessageInitialState = "initial_state"
	MessageQueueUpdate  = "queue_update"
	MessagePing         = "ping"
	MessagePong         = "pong"
	MessageRefresh      = "refresh"
)

// MChannelMessage is the JSON envelope used on the live channel in both
// directions. Data is left raw so the manager can forward it untouched.
type MChannelMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsSnapshot reports whether the message carries a full queue snapshot.
func (m MChannelMessage) IsSnapshot() bool {
	return m.Type == MessageInitialState || m.Type == MessageQueueUpdate
}

// IsKnownInbound reports whether the kind is part of the inbound protocol.
func (m MChannelMessage) IsKnownInbound() bool {
	switch m.Type {
	case MessageInitialState, MessageQueueUpdate, MessagePing, MessagePong:
		return true
	}
	return false
}
