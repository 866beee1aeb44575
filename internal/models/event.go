package models

import "time"

// EventKind names a delivery event pushed to the transport.
type EventKind string

const (
	EventTypingStart   EventKind = "typing_start"
	EventTypingStop    EventKind = "typing_stop"
	EventFragment      EventKind = "fragment"
	EventTurnComplete  EventKind = "turn_complete"
	EventTurnCancelled EventKind = "turn_cancelled"
)

// Event is the payload handed to a push channel.
type Event struct {
	Kind     EventKind        `json:"kind"`
	TurnID   string           `json:"turn_id"`
	Epoch    uint64           `json:"epoch"`
	Index    int              `json:"index,omitempty"`
	Fragment *MessageFragment `json:"fragment,omitempty"`
	Revealed int              `json:"revealed,omitempty"`
	Dropped  int              `json:"dropped,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	At       time.Time        `json:"at"`
}
