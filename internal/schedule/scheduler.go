// Package schedule keeps exactly one pending daily report trigger per
// tenant. The cron runner supplies the wall-clock recurrence in the
// deployment timezone; the tenant-keyed registry makes cancel-and-rearm a
// single atomic operation so stale jobs never coexist with a fresh one.
package schedule

import (
	"fmt"
	"sync"
	"time"

	cron "github.com/netresearch/go-cron"

	"rollcall/pkg/domain"
)

// Scheduler arms one recurring daily job per tenant.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates and starts a scheduler in the given timezone.
func New(loc *time.Location) *Scheduler {
	c := cron.New(cron.WithLocation(loc))
	c.Start()
	return &Scheduler{
		cron:    c,
		entries: make(map[string]cron.EntryID),
	}
}

// Arm replaces the tenant's trigger with a daily one at clock ("HH:MM").
// Any previously armed trigger is removed before the new one is added, under
// the registry lock, so repeated reconfiguration can never leave two live
// triggers for one tenant.
func (s *Scheduler) Arm(tenantID, clock string, job func()) error {
	minutes, err := domain.ParseClock(clock)
	if err != nil {
		return fmt.Errorf("arm %s: %w", tenantID, err)
	}
	spec := fmt.Sprintf("%d %d * * *", minutes%60, minutes/60)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[tenantID]; ok {
		s.cron.Remove(id)
		delete(s.entries, tenantID)
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("arm %s: %w", tenantID, err)
	}
	s.entries[tenantID] = id
	return nil
}

// Disarm cancels the tenant's trigger without rearming.
func (s *Scheduler) Disarm(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[tenantID]; ok {
		s.cron.Remove(id)
		delete(s.entries, tenantID)
	}
}

// Armed reports whether the tenant currently has a trigger.
func (s *Scheduler) Armed(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[tenantID]
	return ok
}

// NextFire returns the next scheduled fire time for the tenant, zero when
// nothing is armed.
func (s *Scheduler) NextFire(tenantID string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[tenantID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	entry := s.cron.Entry(id)
	return entry.Next
}

// Stop halts the underlying runner; armed jobs already running finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
