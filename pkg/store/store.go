package store

import (
	"context"

	"rollcall/pkg/domain"
)

// Store defines persistence operations for tenant setups, rosters, and
// daily submissions. Lookup misses are reported through the bool return,
// never as errors.
type Store interface {
	// tenant setup
	SaveSetup(ctx context.Context, setup domain.TenantSetup) error
	GetSetup(ctx context.Context, tenantID string) (domain.TenantSetup, bool, error)
	ListSetups(ctx context.Context) ([]domain.TenantSetup, error)
	SetRunning(ctx context.Context, tenantID string, running bool) error

	// roster
	ReplaceRoster(ctx context.Context, batchLabel string, students []domain.Student) error
	ListStudents(ctx context.Context, batchLabel string) ([]domain.Student, error)
	GetStudent(ctx context.Context, memberID, batchLabel string) (domain.Student, bool, error)

	// submissions
	// AppendSubmission records memberID for (date, batchLabel) and reports
	// whether the set changed. Implementations must make the insert-if-absent
	// atomic so duplicate deliveries and concurrent messages cannot produce
	// duplicate records or duplicate member ids.
	AppendSubmission(ctx context.Context, date, batchLabel, memberID string) (bool, error)
	GetSubmission(ctx context.Context, date, batchLabel string) (domain.Submission, bool, error)
	ClearSubmissions(ctx context.Context, date, batchLabel string) error
}
