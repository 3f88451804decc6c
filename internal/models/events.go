package models

import "time"

// EventType identifies a structured notification delivered to the UI layer.
type EventType string

const (
	EventAuthChanged            EventType = "AUTH_CHANGED"
	EventProtectionStateChanged EventType = "PROTECTION_STATE_CHANGED"
	EventScanComplete           EventType = "SCAN_COMPLETE"
	EventLogsCleared            EventType = "LOGS_CLEARED"
)

// AgentEvent is one structured notification pushed to UI subscribers.
type AgentEvent struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewAgentEvent stamps an event with the current time.
func NewAgentEvent(eventType EventType, payload interface{}) AgentEvent {
	return AgentEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// ScanCompletePayload accompanies EventScanComplete.
type ScanCompletePayload struct {
	URL         string `json:"url"`
	Result      string `json:"result"`
	ThreatLevel string `json:"threatLevel,omitempty"`
}
