package domain

import "time"

type SessionStatus string

const (
	StatusUnauthenticated SessionStatus = "unauthenticated"
	StatusPairingPending  SessionStatus = "pairing_pending"
	StatusReady           SessionStatus = "ready"
	StatusDisconnected    SessionStatus = "disconnected"
)

// RosterEntry is one configured roster member, in upload order.
type RosterEntry struct {
	Name     string `json:"name"`
	MemberID string `json:"memberId"`
}

// TenantSetup is the persisted configuration for one tenant: which group is
// observed, the submission window, the report time, and the roster. Times are
// "HH:MM" 24h wall-clock in the deployment timezone; the start time must be
// strictly earlier than the report time (no overnight windows).
type TenantSetup struct {
	TenantID   string        `json:"tenantId"`
	GroupID    string        `json:"groupId"`
	BatchLabel string        `json:"batchLabel"`
	StartTime  string        `json:"startTime"`
	ReportTime string        `json:"reportTime"`
	Roster     []RosterEntry `json:"roster"`
	IsRunning  bool          `json:"isRunning"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Student is a roster entry materialized into the lookup used while matching
// incoming messages. Rows for a batch are replaced wholesale on reconfigure.
type Student struct {
	Name       string `json:"name"`
	BatchLabel string `json:"batchLabel"`
	MemberID   string `json:"memberId"`
}

// Submission is the per-day record of who submitted: one record per
// (date, batch label), member ids held with set semantics.
type Submission struct {
	Date       string   `json:"date"`
	BatchLabel string   `json:"batchLabel"`
	Submitted  []string `json:"submitted"`
}

// Has reports whether memberID is in the submitted set.
func (s Submission) Has(memberID string) bool {
	for _, id := range s.Submitted {
		if id == memberID {
			return true
		}
	}
	return false
}
