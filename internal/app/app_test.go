package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"rollcall/internal/session"
	"rollcall/pkg/domain"
	"rollcall/pkg/store"
)

type fakeSessions struct {
	ensured  []string
	loggedOut []string
	snap     session.Snapshot
	snapOK   bool
	ensureErr error
}

func (f *fakeSessions) EnsureSession(_ context.Context, tenantID string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, tenantID)
	return nil
}

func (f *fakeSessions) Logout(tenantID string) error {
	f.loggedOut = append(f.loggedOut, tenantID)
	return nil
}

func (f *fakeSessions) Snapshot(string) (session.Snapshot, bool) {
	return f.snap, f.snapOK
}

type armedJob struct {
	clock string
	job   func()
}

type fakeJobs struct {
	armed    map[string]armedJob
	armCalls int
}

func newFakeJobs() *fakeJobs { return &fakeJobs{armed: make(map[string]armedJob)} }

func (f *fakeJobs) Arm(tenantID, clock string, job func()) error {
	f.armCalls++
	f.armed[tenantID] = armedJob{clock: clock, job: job}
	return nil
}

func (f *fakeJobs) Disarm(tenantID string) { delete(f.armed, tenantID) }

func (f *fakeJobs) Armed(tenantID string) bool {
	_, ok := f.armed[tenantID]
	return ok
}

func (f *fakeJobs) NextFire(string) time.Time { return time.Time{} }

type fakeReporter struct {
	generated []string
	err       error
}

func (f *fakeReporter) Generate(_ context.Context, tenantID string) error {
	f.generated = append(f.generated, tenantID)
	return f.err
}

var kolkata = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2025, time.March, 7, 12, 0, 0, 0, kolkata) }
}

func validRequest() SetupRequest {
	return SetupRequest{
		GroupID:    "group-1@g.us",
		BatchLabel: "BCK221 A",
		StartTime:  "09:00",
		ReportTime: "19:40",
		Roster: []RosterUpload{
			{Name: "Alice", MemberID: "911234500001@c.us"},
			{Name: "Bob", MemberID: "911234500002@c.us"},
		},
	}
}

func newTestApp() (*App, *store.MemoryStore, *fakeSessions, *fakeJobs, *fakeReporter) {
	st := store.NewMemoryStore()
	sessions := &fakeSessions{}
	jobs := newFakeJobs()
	reporter := &fakeReporter{}
	a := New(st, sessions, jobs, reporter, kolkata).WithClock(fixedClock())
	return a, st, sessions, jobs, reporter
}

func TestReconfigureAppliesSetup(t *testing.T) {
	a, st, sessions, jobs, reporter := newTestApp()
	ctx := context.Background()

	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	setup, ok, _ := st.GetSetup(ctx, "tenant-a")
	if !ok || !setup.IsRunning || setup.GroupID != "group-1@g.us" {
		t.Fatalf("setup not persisted as running: %+v ok=%v", setup, ok)
	}
	roster, _ := st.ListStudents(ctx, "BCK221 A")
	if len(roster) != 2 || roster[0].Name != "Alice" || roster[1].Name != "Bob" {
		t.Fatalf("roster not materialized in order: %+v", roster)
	}
	if len(sessions.ensured) != 1 {
		t.Fatalf("session not ensured")
	}
	entry, ok := jobs.armed["tenant-a"]
	if !ok || entry.clock != "19:40" {
		t.Fatalf("report trigger not armed at 19:40: %+v", entry)
	}
	// The armed job drives the reporter for this tenant.
	entry.job()
	if len(reporter.generated) != 1 || reporter.generated[0] != "tenant-a" {
		t.Fatalf("armed job did not generate: %v", reporter.generated)
	}
}

func TestReconfigureResetsTodaysSubmissions(t *testing.T) {
	a, st, _, _, _ := newTestApp()
	ctx := context.Background()
	if _, err := st.AppendSubmission(ctx, "07/03/2025", "BCK221 A", "911234500001@c.us"); err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if _, ok, _ := st.GetSubmission(ctx, "07/03/2025", "BCK221 A"); ok {
		t.Fatalf("today's submissions survived reconfigure")
	}
}

func TestReconfigureTwiceKeepsSingleTrigger(t *testing.T) {
	a, _, _, jobs, _ := newTestApp()
	ctx := context.Background()

	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("first reconfigure: %v", err)
	}
	second := validRequest()
	second.ReportTime = "20:15"
	if err := a.Reconfigure(ctx, "tenant-a", second); err != nil {
		t.Fatalf("second reconfigure: %v", err)
	}

	if len(jobs.armed) != 1 {
		t.Fatalf("expected exactly one live trigger, have %d", len(jobs.armed))
	}
	if jobs.armed["tenant-a"].clock != "20:15" {
		t.Fatalf("trigger kept the old time: %q", jobs.armed["tenant-a"].clock)
	}
}

func TestReconfigureValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SetupRequest)
	}{
		{"missing group", func(r *SetupRequest) { r.GroupID = "" }},
		{"missing batch", func(r *SetupRequest) { r.BatchLabel = "" }},
		{"bad start time", func(r *SetupRequest) { r.StartTime = "9 am" }},
		{"bad report time", func(r *SetupRequest) { r.ReportTime = "25:00" }},
		{"window inverted", func(r *SetupRequest) { r.StartTime = "20:00"; r.ReportTime = "09:00" }},
		{"window empty", func(r *SetupRequest) { r.StartTime = "19:40" }},
		{"bad member id", func(r *SetupRequest) { r.Roster[0].MemberID = "not-an-id" }},
		{"nameless member", func(r *SetupRequest) { r.Roster[0].Name = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, st, sessions, jobs, _ := newTestApp()
			req := validRequest()
			tc.mutate(&req)

			err := a.Reconfigure(context.Background(), "tenant-a", req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
			if _, ok, _ := st.GetSetup(context.Background(), "tenant-a"); ok {
				t.Fatalf("rejected request mutated the store")
			}
			if len(sessions.ensured) != 0 || len(jobs.armed) != 0 {
				t.Fatalf("rejected request touched session or trigger")
			}
		})
	}
}

func TestReconfigureReusesStoredRoster(t *testing.T) {
	a, st, _, _, _ := newTestApp()
	ctx := context.Background()
	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("initial reconfigure: %v", err)
	}

	again := validRequest()
	again.Roster = nil
	again.StartTime = "10:00"
	if err := a.Reconfigure(ctx, "tenant-a", again); err != nil {
		t.Fatalf("reconfigure without roster: %v", err)
	}

	setup, _, _ := st.GetSetup(ctx, "tenant-a")
	if len(setup.Roster) != 2 {
		t.Fatalf("stored roster not reused: %+v", setup.Roster)
	}
	if setup.StartTime != "10:00" {
		t.Fatalf("new times not applied")
	}
}

func TestReconfigureEmptyRosterNoFallback(t *testing.T) {
	a, _, _, _, _ := newTestApp()
	req := validRequest()
	req.Roster = nil
	if err := a.Reconfigure(context.Background(), "tenant-a", req); !errors.Is(err, ErrEmptyRoster) {
		t.Fatalf("err = %v, want ErrEmptyRoster", err)
	}
}

func TestStopDisarmsAndMarksStopped(t *testing.T) {
	a, st, _, jobs, _ := newTestApp()
	ctx := context.Background()
	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	if err := a.Stop(ctx, "tenant-a"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if jobs.Armed("tenant-a") {
		t.Fatalf("trigger still armed after stop")
	}
	setup, _, _ := st.GetSetup(ctx, "tenant-a")
	if setup.IsRunning {
		t.Fatalf("tenant still marked running")
	}
}

func TestLogoutKeepsSetupForLater(t *testing.T) {
	a, st, sessions, jobs, _ := newTestApp()
	ctx := context.Background()
	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	if err := a.Logout(ctx, "tenant-a"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(sessions.loggedOut) != 1 {
		t.Fatalf("session not logged out")
	}
	if jobs.Armed("tenant-a") {
		t.Fatalf("trigger still armed after logout")
	}
	if _, ok, _ := st.GetSetup(ctx, "tenant-a"); !ok {
		t.Fatalf("logout deleted the stored setup")
	}

	// Coming back with times only works because the roster survived.
	again := validRequest()
	again.Roster = nil
	if err := a.Reconfigure(ctx, "tenant-a", again); err != nil {
		t.Fatalf("reconfigure after logout: %v", err)
	}
}

func TestStatusReportsSubmittedCount(t *testing.T) {
	a, st, sessions, _, _ := newTestApp()
	ctx := context.Background()
	sessions.snap = session.Snapshot{Status: domain.StatusReady}
	sessions.snapOK = true

	if err := a.Reconfigure(ctx, "tenant-a", validRequest()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if _, err := st.AppendSubmission(ctx, "07/03/2025", "BCK221 A", "911234500001@c.us"); err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	status, err := a.Status(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Setup == nil || status.Setup.BatchLabel != "BCK221 A" {
		t.Fatalf("setup missing from status: %+v", status)
	}
	if !status.ReportArmed {
		t.Fatalf("armed trigger not reflected")
	}
	if status.Date != "07/03/2025" || status.SubmittedToday != 1 {
		t.Fatalf("submission count wrong: %+v", status)
	}
}

func TestStatusUnknownTenant(t *testing.T) {
	a, _, _, _, _ := newTestApp()
	status, err := a.Status(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Setup != nil || status.ReportArmed || status.SubmittedToday != 0 {
		t.Fatalf("unexpected status for unknown tenant: %+v", status)
	}
}

func TestRestoreRearmsRunningTenants(t *testing.T) {
	a, st, _, jobs, _ := newTestApp()
	ctx := context.Background()
	_ = st.SaveSetup(ctx, domain.TenantSetup{
		TenantID: "running", BatchLabel: "B1", GroupID: "g@g.us",
		StartTime: "09:00", ReportTime: "19:40", IsRunning: true,
	})
	_ = st.SaveSetup(ctx, domain.TenantSetup{
		TenantID: "stopped", BatchLabel: "B2", GroupID: "g2@g.us",
		StartTime: "09:00", ReportTime: "18:00", IsRunning: false,
	})

	if err := a.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !jobs.Armed("running") {
		t.Fatalf("running tenant not rearmed")
	}
	if jobs.Armed("stopped") {
		t.Fatalf("stopped tenant rearmed")
	}
	if jobs.armed["running"].clock != "19:40" {
		t.Fatalf("rearmed at wrong time: %q", jobs.armed["running"].clock)
	}
}
