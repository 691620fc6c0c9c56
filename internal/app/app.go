// Package app is the orchestration layer behind the HTTP surface: it
// validates setup requests and drives the store, the session registry, the
// report scheduler, and the generator as one unit.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"rollcall/internal/session"
	"rollcall/pkg/domain"
	"rollcall/pkg/store"
)

// memberIDPattern matches platform member ids like "919876543210@c.us".
var memberIDPattern = regexp.MustCompile(`^[0-9]{5,20}@[a-z0-9.]+$`)

// SetupRequest is the tenant-facing configure/reconfigure payload. Roster is
// optional: an empty roster reuses the tenant's stored one, so a tenant that
// logged out can come back with times only.
type SetupRequest struct {
	GroupID    string         `json:"groupId" validate:"required"`
	BatchLabel string         `json:"batchLabel" validate:"required"`
	StartTime  string         `json:"startTime" validate:"required,datetime=15:04"`
	ReportTime string         `json:"reportTime" validate:"required,datetime=15:04"`
	Roster     []RosterUpload `json:"roster" validate:"omitempty,dive"`
}

// RosterUpload is one roster member in a setup request.
type RosterUpload struct {
	Name     string `json:"name" validate:"required"`
	MemberID string `json:"memberId" validate:"required,memberid"`
}

// Status is the full per-tenant view returned by the status endpoint.
type Status struct {
	Session        session.Snapshot    `json:"session"`
	Setup          *domain.TenantSetup `json:"setup,omitempty"`
	ReportArmed    bool                `json:"reportArmed"`
	NextReportAt   string              `json:"nextReportAt,omitempty"`
	Date           string              `json:"date"`
	SubmittedToday int                 `json:"submittedToday"`
}

// Sessions is the slice of the session registry the app drives.
type Sessions interface {
	EnsureSession(ctx context.Context, tenantID string) error
	Logout(tenantID string) error
	Snapshot(tenantID string) (session.Snapshot, bool)
}

// Jobs arms and disarms the per-tenant daily report trigger.
type Jobs interface {
	Arm(tenantID, clock string, job func()) error
	Disarm(tenantID string)
	Armed(tenantID string) bool
	NextFire(tenantID string) time.Time
}

// Reporter produces and delivers one tenant's report for today.
type Reporter interface {
	Generate(ctx context.Context, tenantID string) error
}

// App ties the tenant-facing operations together.
type App struct {
	store    store.Store
	sessions Sessions
	jobs     Jobs
	reporter Reporter
	loc      *time.Location
	validate *validator.Validate
	now      func() time.Time
}

// New builds the app facade.
func New(st store.Store, sessions Sessions, jobs Jobs, reporter Reporter, loc *time.Location) *App {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("memberid", func(fl validator.FieldLevel) bool {
		return memberIDPattern.MatchString(fl.Field().String())
	})
	return &App{
		store:    st,
		sessions: sessions,
		jobs:     jobs,
		reporter: reporter,
		loc:      loc,
		validate: v,
		now:      time.Now,
	}
}

// WithClock overrides the time source (tests).
func (a *App) WithClock(now func() time.Time) *App {
	a.now = now
	return a
}

// Reconfigure validates req and applies it as the tenant's active setup:
// roster replaced (or reused when the request omits it), today's submissions
// for the batch reset, the daily report trigger rearmed at the new time, and
// a messaging session ensured. Nothing is persisted when validation fails.
func (a *App) Reconfigure(ctx context.Context, tenantID string, req SetupRequest) error {
	if err := a.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	start, err := domain.ParseClock(req.StartTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	report, err := domain.ParseClock(req.ReportTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if start >= report {
		return fmt.Errorf("%w: start time %s must be before report time %s", ErrInvalidRequest, req.StartTime, req.ReportTime)
	}

	roster := make([]domain.RosterEntry, 0, len(req.Roster))
	for _, m := range req.Roster {
		roster = append(roster, domain.RosterEntry{Name: m.Name, MemberID: m.MemberID})
	}
	if len(roster) == 0 {
		prev, ok, err := a.store.GetSetup(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("load previous setup: %w", err)
		}
		if !ok || len(prev.Roster) == 0 {
			return ErrEmptyRoster
		}
		roster = prev.Roster
	}

	setup := domain.TenantSetup{
		TenantID:   tenantID,
		GroupID:    req.GroupID,
		BatchLabel: req.BatchLabel,
		StartTime:  req.StartTime,
		ReportTime: req.ReportTime,
		Roster:     roster,
		IsRunning:  true,
		UpdatedAt:  a.now().UTC(),
	}
	if err := a.store.SaveSetup(ctx, setup); err != nil {
		return fmt.Errorf("save setup: %w", err)
	}

	students := make([]domain.Student, 0, len(roster))
	for _, m := range roster {
		students = append(students, domain.Student{
			Name:       m.Name,
			BatchLabel: req.BatchLabel,
			MemberID:   m.MemberID,
		})
	}
	if err := a.store.ReplaceRoster(ctx, req.BatchLabel, students); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}

	// A reconfigure starts the batch's day over.
	today := domain.DateKey(a.now().In(a.loc))
	if err := a.store.ClearSubmissions(ctx, today, req.BatchLabel); err != nil {
		return fmt.Errorf("reset today's submissions: %w", err)
	}

	if err := a.arm(tenantID, req.ReportTime); err != nil {
		return err
	}

	if err := a.sessions.EnsureSession(ctx, tenantID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	slog.Info("tenant configured",
		"tenant", tenantID,
		"batch", req.BatchLabel,
		"group", req.GroupID,
		"window", req.StartTime+"-"+req.ReportTime,
	)
	return nil
}

// Stop pauses recording and reporting for the tenant without touching the
// session or the stored setup.
func (a *App) Stop(ctx context.Context, tenantID string) error {
	a.jobs.Disarm(tenantID)
	if err := a.store.SetRunning(ctx, tenantID, false); err != nil {
		return fmt.Errorf("stop tenant: %w", err)
	}
	slog.Info("tenant stopped", "tenant", tenantID)
	return nil
}

// Logout tears down the tenant's messaging session and disarms its report
// trigger. Setup and roster stay stored so a later Reconfigure can omit the
// roster.
func (a *App) Logout(ctx context.Context, tenantID string) error {
	a.jobs.Disarm(tenantID)
	if err := a.store.SetRunning(ctx, tenantID, false); err != nil {
		return fmt.Errorf("mark stopped: %w", err)
	}
	if err := a.sessions.Logout(tenantID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	slog.Info("tenant logged out", "tenant", tenantID)
	return nil
}

// Status assembles the tenant's session snapshot, stored setup, trigger
// state, and today's submission count.
func (a *App) Status(ctx context.Context, tenantID string) (Status, error) {
	snap, _ := a.sessions.Snapshot(tenantID)
	today := a.now().In(a.loc)
	out := Status{
		Session:     snap,
		ReportArmed: a.jobs.Armed(tenantID),
		Date:        domain.DateKey(today),
	}
	if next := a.jobs.NextFire(tenantID); !next.IsZero() {
		out.NextReportAt = next.Format(time.RFC3339)
	}

	setup, ok, err := a.store.GetSetup(ctx, tenantID)
	if err != nil {
		return Status{}, fmt.Errorf("load setup: %w", err)
	}
	if !ok {
		return out, nil
	}
	out.Setup = &setup
	submission, _, err := a.store.GetSubmission(ctx, out.Date, setup.BatchLabel)
	if err != nil {
		return Status{}, fmt.Errorf("load submissions: %w", err)
	}
	out.SubmittedToday = len(submission.Submitted)
	return out, nil
}

// Restore rearms report triggers for every running tenant. Triggers live in
// process memory, so a restart would otherwise silently drop them.
func (a *App) Restore(ctx context.Context) error {
	setups, err := a.store.ListSetups(ctx)
	if err != nil {
		return fmt.Errorf("scan setups: %w", err)
	}
	for _, setup := range setups {
		if !setup.IsRunning {
			continue
		}
		if err := a.arm(setup.TenantID, setup.ReportTime); err != nil {
			slog.Error("rearm failed", "tenant", setup.TenantID, "err", err)
			continue
		}
		slog.Info("report trigger restored", "tenant", setup.TenantID, "at", setup.ReportTime)
	}
	return nil
}

func (a *App) arm(tenantID, reportTime string) error {
	err := a.jobs.Arm(tenantID, reportTime, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := a.reporter.Generate(ctx, tenantID); err != nil {
			slog.Error("scheduled report failed", "tenant", tenantID, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("arm report trigger: %w", err)
	}
	return nil
}
