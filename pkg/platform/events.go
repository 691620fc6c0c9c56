package platform

import (
	"encoding/json"
	"fmt"
)

// Wire envelopes exchanged with the protocol client over AMQP.
const (
	EventPairingCode  = "pairing_code"
	EventReady        = "ready"
	EventMessage      = "message"
	EventDisconnected = "disconnected"

	CommandBeginPairing = "begin_pairing"
	CommandSend         = "send"
	CommandListGroups   = "list_groups"
	CommandListContacts = "list_contacts"
	CommandDestroy      = "destroy"
)

// Event is what the protocol client publishes on a tenant's events queue.
type Event struct {
	Type    string   `json:"type"`
	Code    string   `json:"code,omitempty"`
	OwnerID string   `json:"ownerId,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// Command is what the engine publishes on a tenant's commands queue.
type Command struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ChatListReply answers a list_groups / list_contacts command.
type ChatListReply struct {
	Chats []ChatInfo `json:"chats"`
	Error string     `json:"error,omitempty"`
}

// DecodeEvent parses an event envelope off the wire.
func DecodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	if ev.Type == EventMessage && ev.Message == nil {
		return Event{}, fmt.Errorf("decode event: message event without payload")
	}
	return ev, nil
}
