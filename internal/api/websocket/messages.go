package websocket

import (
	"time"

	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeSnapshot   MessageType = "snapshot"
	MessageTypeDoseEvent  MessageType = "dose_event"
	MessageTypeModeChange MessageType = "mode_change"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ModeChangeData is sent whenever the system mode differs from the last
// snapshot seen by the hub.
type ModeChangeData struct {
	Mode     string `json:"mode"`
	Previous string `json:"previous_mode"`
	Reason   string `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewSnapshotMessage(snap control.Snapshot) Message {
	return NewMessage(MessageTypeSnapshot, snap)
}

func NewDoseEventMessage(ev dosing.DoseEvent) Message {
	return NewMessage(MessageTypeDoseEvent, ev)
}

func NewModeChangeMessage(mode, previous, reason string) Message {
	return NewMessage(MessageTypeModeChange, ModeChangeData{
		Mode:     mode,
		Previous: previous,
		Reason:   reason,
	})
}
