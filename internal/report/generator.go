// Package report renders and delivers the once-daily submission summary.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rollcall/pkg/domain"
	"rollcall/pkg/store"
)

const closingRemark = "Consistency leads to success. Great job to those who submitted, keep the momentum going! 🎯"

// Sender delivers report text through a tenant's messaging session.
type Sender interface {
	IsReady(tenantID string) bool
	Send(ctx context.Context, tenantID, groupID, text string) error
}

// Archiver persists sent reports for audit. Optional.
type Archiver interface {
	Archive(ctx context.Context, tenantID, date, text string) error
}

// Generator builds today's report from the roster and submission state.
type Generator struct {
	store    store.Store
	sender   Sender
	archiver Archiver
	loc      *time.Location
	now      func() time.Time
}

// New creates a generator. archiver may be nil.
func New(st store.Store, sender Sender, archiver Archiver, loc *time.Location) *Generator {
	return &Generator{store: st, sender: sender, archiver: archiver, loc: loc, now: time.Now}
}

// WithClock overrides the time source (tests).
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate sends the tenant's report for today. A stopped tenant or a
// session that is not ready is skipped silently: that is the expected state
// during transient disconnects, not a fault. Send failures are logged and
// the report is neither retried nor queued.
func (g *Generator) Generate(ctx context.Context, tenantID string) error {
	setup, ok, err := g.store.GetSetup(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load setup: %w", err)
	}
	if !ok || !setup.IsRunning || setup.GroupID == "" {
		return nil
	}
	if !g.sender.IsReady(tenantID) {
		slog.Debug("report skipped, session not ready", "tenant", tenantID)
		return nil
	}

	roster, err := g.store.ListStudents(ctx, setup.BatchLabel)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	today := g.now().In(g.loc)
	date := domain.DateKey(today)
	submission, _, err := g.store.GetSubmission(ctx, date, setup.BatchLabel)
	if err != nil {
		return fmt.Errorf("load submissions: %w", err)
	}

	text := Render(setup.BatchLabel, today, roster, submission)
	if err := g.sender.Send(ctx, tenantID, setup.GroupID, text); err != nil {
		slog.Error("report send failed", "tenant", tenantID, "group", setup.GroupID, "err", err)
		return nil
	}
	slog.Info("report sent", "tenant", tenantID, "batch", setup.BatchLabel, "date", date)

	if g.archiver != nil {
		if err := g.archiver.Archive(ctx, tenantID, date, text); err != nil {
			slog.Warn("report archive failed", "tenant", tenantID, "date", date, "err", err)
		}
	}
	return nil
}

// Render formats the report. Roster order is preserved within both
// partitions.
func Render(batchLabel string, day time.Time, roster []domain.Student, submission domain.Submission) string {
	var submitted, missing []string
	for _, st := range roster {
		if submission.Has(st.MemberID) {
			submitted = append(submitted, "✅ "+st.Name)
		} else {
			missing = append(missing, "❌ "+st.Name)
		}
	}

	var b strings.Builder
	b.WriteString("Daily Task Report\n")
	b.WriteString("------------------------------\n")
	fmt.Fprintf(&b, "Batch: %s\n", batchLabel)
	fmt.Fprintf(&b, "Day: %s\n", day.Weekday())
	fmt.Fprintf(&b, "Date: %s\n", domain.DateKey(day))
	b.WriteString("------------------------------\n")
	b.WriteString("Submitted:\n")
	if len(submitted) > 0 {
		b.WriteString(strings.Join(submitted, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("Not Submitted:\n")
	if len(missing) > 0 {
		b.WriteString(strings.Join(missing, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(closingRemark)
	return b.String()
}
