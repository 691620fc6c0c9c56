// Package recorder decides whether one incoming message is a qualifying
// submission and records it at most once per member per day.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rollcall/pkg/domain"
	"rollcall/pkg/platform"
	"rollcall/pkg/store"
)

// Recorder validates messages against the tenant's active window and roster.
type Recorder struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

// New creates a recorder evaluating windows in the deployment timezone.
func New(st store.Store, loc *time.Location) *Recorder {
	return &Recorder{store: st, loc: loc, now: time.Now}
}

// WithClock overrides the time source (tests).
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record applies the qualification rules from the tenant's *current* setup
// and appends the member to today's submitted set if absent. It reports
// whether the set changed; a false with nil error is the normal "message did
// not qualify" outcome.
//
// The window check uses the time of processing, not the message's own
// timestamp, so a late-delivered message after window close is dropped.
func (r *Recorder) Record(ctx context.Context, setup domain.TenantSetup, msg platform.Message, ownerID string) (bool, error) {
	if !msg.Audio() {
		return false, nil
	}

	// A group message sent by the account owner carries no author field.
	memberID := msg.AuthorMemberID
	if memberID == "" {
		memberID = ownerID
	}
	if memberID == "" {
		return false, nil
	}

	start, err := domain.ParseClock(setup.StartTime)
	if err != nil {
		return false, fmt.Errorf("setup %s: %w", setup.TenantID, err)
	}
	end, err := domain.ParseClock(setup.ReportTime)
	if err != nil {
		return false, fmt.Errorf("setup %s: %w", setup.TenantID, err)
	}
	now := r.now().In(r.loc)
	minute := domain.MinutesOfDay(now)
	// The upper bound is inclusive: a submission at exactly report time counts.
	if minute < start || minute > end {
		return false, nil
	}

	student, ok, err := r.store.GetStudent(ctx, memberID, setup.BatchLabel)
	if err != nil {
		return false, fmt.Errorf("lookup student: %w", err)
	}
	if !ok {
		// Sender is not on the active roster; normal outcome.
		return false, nil
	}

	date := domain.DateKey(now)
	added, err := r.store.AppendSubmission(ctx, date, setup.BatchLabel, memberID)
	if err != nil {
		return false, fmt.Errorf("append submission: %w", err)
	}
	if added {
		slog.Info("submission recorded",
			"tenant", setup.TenantID,
			"batch", setup.BatchLabel,
			"student", student.Name,
			"member", memberID,
			"date", date,
		)
	}
	return added, nil
}
