// Package session owns one messaging-platform session per tenant: lazy
// creation, connection-state tracking, message routing, and teardown.
//
// Each tenant's state moves through a small FSM:
//
//	unauthenticated -> pairing_pending -> ready -> disconnected -> (ready | destroyed)
//
// Transitions are driven by discrete platform events; all state for one
// tenant sits behind that tenant's own lock, so tenants never block each
// other.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rollcall/internal/util"
	"rollcall/pkg/domain"
	"rollcall/pkg/platform"
	"rollcall/pkg/store"
)

// Notifier publishes session events to the tenant's configuration channel.
type Notifier interface {
	PairingCode(ctx context.Context, tenantID, code string)
	Ready(ctx context.Context, tenantID string, groups, contacts []platform.ChatInfo)
	Disconnected(ctx context.Context, tenantID, reason string)
}

// Recorder consumes messages that may be qualifying submissions.
type Recorder interface {
	Record(ctx context.Context, setup domain.TenantSetup, msg platform.Message, ownerID string) (bool, error)
}

// Retryer runs a bounded retry for the post-pairing snapshot fetch; the
// platform briefly reports empty group lists right after pairing.
type Retryer func(ctx context.Context, attempts int, initial time.Duration, fn func() error) error

// Config wires the manager's collaborators.
type Config struct {
	Factory  platform.Factory
	Store    store.Store
	Recorder Recorder
	Notifier Notifier
	Retry    Retryer

	// Snapshot fetch tuning; zero values get defaults.
	SnapshotAttempts int
	SnapshotDelay    time.Duration
}

// Manager is the per-tenant session registry. It implements
// platform.Handler to receive session events.
type Manager struct {
	factory  platform.Factory
	store    store.Store
	recorder Recorder
	notifier Notifier
	retry    Retryer

	snapshotAttempts int
	snapshotDelay    time.Duration

	mu      sync.Mutex
	tenants map[string]*tenantState
}

type tenantState struct {
	mu          sync.Mutex
	status      domain.SessionStatus
	pairingCode string
	sess        platform.Session
	ownerID     string
	groups      []platform.ChatInfo
	contacts    []platform.ChatInfo
}

// Snapshot is the externally visible view of one tenant's session state.
type Snapshot struct {
	Status      domain.SessionStatus `json:"status"`
	PairingCode string               `json:"pairingCode,omitempty"`
	Groups      []platform.ChatInfo  `json:"groups,omitempty"`
	Contacts    []platform.ChatInfo  `json:"contacts,omitempty"`
}

// NewManager creates an empty registry.
func NewManager(cfg Config) *Manager {
	attempts := cfg.SnapshotAttempts
	if attempts <= 0 {
		attempts = 4
	}
	delay := cfg.SnapshotDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	retry := cfg.Retry
	if retry == nil {
		retry = util.Retry
	}
	return &Manager{
		factory:          cfg.Factory,
		store:            cfg.Store,
		recorder:         cfg.Recorder,
		notifier:         cfg.Notifier,
		retry:            retry,
		snapshotAttempts: attempts,
		snapshotDelay:    delay,
		tenants:          make(map[string]*tenantState),
	}
}

// state returns the tenant's entry, creating it when create is set. The
// registry lock only guards the map; per-tenant work happens under the
// entry's own lock.
func (m *Manager) state(tenantID string, create bool) *tenantState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenantID]
	if !ok && create {
		st = &tenantState{status: domain.StatusUnauthenticated}
		m.tenants[tenantID] = st
	}
	return st
}

// EnsureSession creates the tenant's session if absent and starts pairing.
// Concurrent calls for one tenant serialize on the tenant lock, so exactly
// one session is ever constructed.
func (m *Manager) EnsureSession(ctx context.Context, tenantID string) error {
	st := m.state(tenantID, true)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sess != nil {
		return nil
	}
	sess, err := m.factory.NewSession(tenantID, m)
	if err != nil {
		return fmt.Errorf("create session for %s: %w", tenantID, err)
	}
	if err := sess.Start(ctx); err != nil {
		_ = sess.Destroy()
		return fmt.Errorf("start pairing for %s: %w", tenantID, err)
	}
	st.sess = sess
	st.status = domain.StatusUnauthenticated
	return nil
}

// OnPairingCode stores the issued code and forwards it to the tenant's
// configuration channel for display.
func (m *Manager) OnPairingCode(tenantID, code string) {
	st := m.state(tenantID, false)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.status = domain.StatusPairingPending
	st.pairingCode = code
	st.mu.Unlock()
	m.notifier.PairingCode(context.Background(), tenantID, code)
}

// OnReady marks the session usable and kicks off the groups/contacts
// snapshot fetch.
func (m *Manager) OnReady(tenantID string) {
	st := m.state(tenantID, false)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.status = domain.StatusReady
	st.pairingCode = ""
	if st.sess != nil {
		st.ownerID = st.sess.OwnerID()
	}
	sess := st.sess
	st.mu.Unlock()
	if sess == nil {
		return
	}
	go m.fetchSnapshot(tenantID, st, sess)
}

func (m *Manager) fetchSnapshot(tenantID string, st *tenantState, sess platform.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var groups, contacts []platform.ChatInfo
	err := m.retry(ctx, m.snapshotAttempts, m.snapshotDelay, func() error {
		var ferr error
		groups, ferr = sess.ListGroups(ctx)
		if ferr != nil {
			return ferr
		}
		if len(groups) == 0 {
			return fmt.Errorf("group list empty right after pairing")
		}
		contacts, ferr = sess.ListContacts(ctx)
		return ferr
	})
	if err != nil {
		slog.Warn("groups/contacts snapshot unavailable", "tenant", tenantID, "err", err)
		return
	}
	st.mu.Lock()
	st.groups = groups
	st.contacts = contacts
	st.mu.Unlock()
	m.notifier.Ready(ctx, tenantID, groups, contacts)
}

// OnMessage routes one incoming message to the recorder, provided the
// session is ready and the tenant's current setup is running and matches
// the originating group. The setup is read fresh per message so that a
// reconfiguration racing an in-flight message resolves to last-write-wins.
func (m *Manager) OnMessage(tenantID string, msg platform.Message) {
	st := m.state(tenantID, false)
	if st == nil {
		return
	}
	st.mu.Lock()
	ready := st.status == domain.StatusReady
	ownerID := st.ownerID
	st.mu.Unlock()
	if !ready {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	setup, ok, err := m.store.GetSetup(ctx, tenantID)
	if err != nil {
		slog.Error("setup lookup failed, message dropped", "tenant", tenantID, "err", err)
		return
	}
	if !ok || !setup.IsRunning {
		return
	}
	if msg.FromGroupID != setup.GroupID && msg.ToGroupID != setup.GroupID {
		return
	}
	if _, err := m.recorder.Record(ctx, setup, msg, ownerID); err != nil {
		// Submission loss is preferred over stalling the message loop.
		slog.Error("submission record failed, message dropped", "tenant", tenantID, "err", err)
	}
}

// OnDisconnected keeps the session object (it may auto-reconnect) but stops
// message attribution until ready recurs.
func (m *Manager) OnDisconnected(tenantID, reason string) {
	st := m.state(tenantID, false)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.status = domain.StatusDisconnected
	st.mu.Unlock()
	slog.Info("session disconnected", "tenant", tenantID, "reason", reason)
	m.notifier.Disconnected(context.Background(), tenantID, reason)
}

// Logout destroys the tenant's session and removes its state. Stored
// configuration stays; the tenant resumes later by re-pairing.
func (m *Manager) Logout(tenantID string) error {
	m.mu.Lock()
	st, ok := m.tenants[tenantID]
	delete(m.tenants, tenantID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	sess := st.sess
	st.sess = nil
	st.status = domain.StatusUnauthenticated
	st.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.Destroy(); err != nil {
		return fmt.Errorf("destroy session for %s: %w", tenantID, err)
	}
	return nil
}

// Snapshot returns the tenant's current session view; ok is false when the
// tenant has no session state at all.
func (m *Manager) Snapshot(tenantID string) (Snapshot, bool) {
	st := m.state(tenantID, false)
	if st == nil {
		return Snapshot{Status: domain.StatusUnauthenticated}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := Snapshot{Status: st.status}
	if st.status == domain.StatusPairingPending {
		snap.PairingCode = st.pairingCode
	}
	if st.status == domain.StatusReady {
		snap.Groups = append([]platform.ChatInfo(nil), st.groups...)
		snap.Contacts = append([]platform.ChatInfo(nil), st.contacts...)
	}
	return snap, true
}

// IsReady reports whether the tenant's session can send right now.
func (m *Manager) IsReady(tenantID string) bool {
	st := m.state(tenantID, false)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status == domain.StatusReady && st.sess != nil
}

// Send delivers text into a group through the tenant's session.
func (m *Manager) Send(ctx context.Context, tenantID, groupID, text string) error {
	st := m.state(tenantID, false)
	if st == nil {
		return ErrNoSession
	}
	st.mu.Lock()
	sess := st.sess
	ready := st.status == domain.StatusReady
	st.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	if !ready {
		return ErrNotReady
	}
	return sess.SendMessage(ctx, groupID, text)
}
