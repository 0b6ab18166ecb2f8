package models

import "time"

type ConnectionPhase string

const (
	PhaseIdle         ConnectionPhase = "idle"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseOpen         ConnectionPhase = "open"
	PhaseReconnecting ConnectionPhase = "reconnecting"
	PhaseClosed       ConnectionPhase = "closed"
)

// Health status shown to the UI
const (
	HealthDisconnected = "disconnected"
	HealthConnecting   = "connecting"
	HealthConnected    = "connected"
	HealthReconnecting = "reconnecting"
	HealthFailed       = "failed"
)

// MConnectionHealth is the connection-health signal exposed by the manager.
type MConnectionHealth struct {
	Key     MTopicKey       `json:"key"`
	Phase   ConnectionPhase `json:"phase"`
	Status  string          `json:"status"`
	Attempt int             `json:"attempt"`
	Error   string          `json:"error,omitempty"`
}

// Persistent reports whether the manager gave up retrying.
func (h MConnectionHealth) Persistent() bool {
	return h.Status == HealthFailed
}

// MConnectionEvent records one state-machine transition.
type MConnectionEvent struct {
	Key     MTopicKey       `json:"key"`
	From    ConnectionPhase `json:"from"`
	To      ConnectionPhase `json:"to"`
	Attempt int             `json:"attempt"`
	Delay   time.Duration   `json:"delay_ns,omitempty"`
	Error   string          `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}
