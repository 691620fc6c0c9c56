// Package platform defines the capability surface the engine consumes from
// the messaging platform, plus the AMQP bridge that carries it to the
// out-of-process protocol client.
package platform

import (
	"context"
	"time"
)

// ChatInfo identifies a group or contact visible to a paired session.
type ChatInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one incoming message observed by a tenant's session.
// AuthorMemberID is empty when the account owner sent the message into the
// group themselves.
type Message struct {
	HasAudio       bool      `json:"hasAudio"`
	VoiceNote      bool      `json:"voiceNote"`
	FromGroupID    string    `json:"fromGroupId"`
	ToGroupID      string    `json:"toGroupId"`
	AuthorMemberID string    `json:"authorMemberId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Audio reports whether the message carries audio-class media.
func (m Message) Audio() bool {
	return m.HasAudio || m.VoiceNote
}

// Handler receives session events. Implementations must not block: event
// dispatch for a tenant is serialized, so a stuck handler stalls that
// tenant's message stream.
type Handler interface {
	OnPairingCode(tenantID, code string)
	OnReady(tenantID string)
	OnMessage(tenantID string, msg Message)
	OnDisconnected(tenantID, reason string)
}

// Session is one tenant's connection to the messaging platform.
type Session interface {
	// Start begins the pairing sequence; the pairing code arrives via
	// Handler.OnPairingCode.
	Start(ctx context.Context) error
	// OwnerID returns the paired account's own member id, known once the
	// session has reported ready.
	OwnerID() string
	SendMessage(ctx context.Context, groupID, text string) error
	ListGroups(ctx context.Context) ([]ChatInfo, error)
	ListContacts(ctx context.Context) ([]ChatInfo, error)
	Destroy() error
}

// Factory creates sessions on demand, one per tenant.
type Factory interface {
	NewSession(tenantID string, h Handler) (Session, error)
}
