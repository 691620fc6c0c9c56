// Package notify publishes session events to the tenant's configuration
// channel. The browser UI subscribes to its tenant's Redis channel to show
// pairing codes and connection state; delivery is best-effort.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"rollcall/pkg/platform"
)

const channelPrefix = "rollcall:events:"

// Publisher fans session events out over Redis pub/sub.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Channel returns the pub/sub channel name for a tenant.
func Channel(tenantID string) string {
	return channelPrefix + tenantID
}

type event struct {
	Type     string              `json:"type"`
	Code     string              `json:"code,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Groups   []platform.ChatInfo `json:"groups,omitempty"`
	Contacts []platform.ChatInfo `json:"contacts,omitempty"`
}

// PairingCode publishes a freshly issued pairing code.
func (p *Publisher) PairingCode(ctx context.Context, tenantID, code string) {
	p.publish(ctx, tenantID, event{Type: "pairing_code", Code: code})
}

// Ready publishes the post-pairing groups/contacts snapshot.
func (p *Publisher) Ready(ctx context.Context, tenantID string, groups, contacts []platform.ChatInfo) {
	p.publish(ctx, tenantID, event{Type: "ready", Groups: groups, Contacts: contacts})
}

// Disconnected publishes a connection loss.
func (p *Publisher) Disconnected(ctx context.Context, tenantID, reason string) {
	p.publish(ctx, tenantID, event{Type: "disconnected", Reason: reason})
}

func (p *Publisher) publish(ctx context.Context, tenantID string, ev event) {
	if p == nil || p.client == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encode notify event", "tenant", tenantID, "err", err)
		return
	}
	if err := p.client.Publish(ctx, Channel(tenantID), body).Err(); err != nil {
		slog.Warn("notify publish failed", "tenant", tenantID, "type", ev.Type, "err", err)
	}
}
