package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"rollcall/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&SetupModel{}, &StudentModel{}, &SubmissionModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveSetup inserts or replaces the tenant's setup record.
func (s *GormStore) SaveSetup(ctx context.Context, setup domain.TenantSetup) error {
	roster, err := json.Marshal(setup.Roster)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	row := SetupModel{
		TenantID:   setup.TenantID,
		GroupID:    setup.GroupID,
		BatchLabel: setup.BatchLabel,
		StartTime:  setup.StartTime,
		ReportTime: setup.ReportTime,
		Roster:     datatypes.JSON(roster),
		IsRunning:  setup.IsRunning,
		UpdatedAt:  setup.UpdatedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save setup: %w", err)
	}
	return nil
}

// GetSetup fetches the tenant's setup, reporting absence via the bool.
func (s *GormStore) GetSetup(ctx context.Context, tenantID string) (domain.TenantSetup, bool, error) {
	var row SetupModel
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.TenantSetup{}, false, nil
	}
	if err != nil {
		return domain.TenantSetup{}, false, fmt.Errorf("get setup: %w", err)
	}
	setup, err := setupFromModel(row)
	if err != nil {
		return domain.TenantSetup{}, false, err
	}
	return setup, true, nil
}

// ListSetups returns every tenant's setup (startup rearm scan).
func (s *GormStore) ListSetups(ctx context.Context) ([]domain.TenantSetup, error) {
	var rows []SetupModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list setups: %w", err)
	}
	setups := make([]domain.TenantSetup, 0, len(rows))
	for _, row := range rows {
		setup, err := setupFromModel(row)
		if err != nil {
			return nil, err
		}
		setups = append(setups, setup)
	}
	return setups, nil
}

// SetRunning toggles the tenant's running flag.
func (s *GormStore) SetRunning(ctx context.Context, tenantID string, running bool) error {
	err := s.db.WithContext(ctx).Model(&SetupModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{"is_running": running, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	return nil
}

// ReplaceRoster deletes the batch's student rows and inserts the new roster.
func (s *GormStore) ReplaceRoster(ctx context.Context, batchLabel string, students []domain.Student) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_label = ?", batchLabel).Delete(&StudentModel{}).Error; err != nil {
			return err
		}
		if len(students) == 0 {
			return nil
		}
		rows := make([]StudentModel, 0, len(students))
		for i, st := range students {
			rows = append(rows, StudentModel{
				BatchLabel: batchLabel,
				MemberID:   st.MemberID,
				Name:       st.Name,
				Position:   i,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}
	return nil
}

// ListStudents returns the batch roster in upload order.
func (s *GormStore) ListStudents(ctx context.Context, batchLabel string) ([]domain.Student, error) {
	var rows []StudentModel
	err := s.db.WithContext(ctx).
		Where("batch_label = ?", batchLabel).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	students := make([]domain.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, domain.Student{
			Name:       row.Name,
			BatchLabel: row.BatchLabel,
			MemberID:   row.MemberID,
		})
	}
	return students, nil
}

// GetStudent looks up one roster member by id within a batch.
func (s *GormStore) GetStudent(ctx context.Context, memberID, batchLabel string) (domain.Student, bool, error) {
	var row StudentModel
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND batch_label = ?", memberID, batchLabel).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Student{}, false, nil
	}
	if err != nil {
		return domain.Student{}, false, fmt.Errorf("get student: %w", err)
	}
	return domain.Student{Name: row.Name, BatchLabel: row.BatchLabel, MemberID: row.MemberID}, true, nil
}

// AppendSubmission adds memberID to the day's submitted set, creating the
// record on first use. The row is locked for the read-modify-write so
// concurrent qualifying messages cannot drop each other's ids, and the
// unique (date, batch) index keeps the record singular under racing creates.
func (s *GormStore) AppendSubmission(ctx context.Context, date, batchLabel, memberID string) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SubmissionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("date = ? AND batch_label = ?", date, batchLabel).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			blob, merr := json.Marshal([]string{memberID})
			if merr != nil {
				return merr
			}
			fresh := SubmissionModel{
				Date:       date,
				BatchLabel: batchLabel,
				Submitted:  datatypes.JSON(blob),
				UpdatedAt:  time.Now().UTC(),
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "date"}, {Name: "batch_label"}},
				DoNothing: true,
			}).Create(&fresh)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				added = true
				return nil
			}
			// Lost the create race; re-read the winner's row under lock.
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("date = ? AND batch_label = ?", date, batchLabel).
				Take(&row).Error
		}
		if err != nil {
			return err
		}
		var submitted []string
		if len(row.Submitted) > 0 {
			if uerr := json.Unmarshal(row.Submitted, &submitted); uerr != nil {
				return fmt.Errorf("decode submitted set: %w", uerr)
			}
		}
		for _, id := range submitted {
			if id == memberID {
				return nil
			}
		}
		submitted = append(submitted, memberID)
		blob, merr := json.Marshal(submitted)
		if merr != nil {
			return merr
		}
		added = true
		return tx.Model(&SubmissionModel{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"submitted": datatypes.JSON(blob), "updated_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return false, fmt.Errorf("append submission: %w", err)
	}
	return added, nil
}

// GetSubmission fetches the day's record for a batch.
func (s *GormStore) GetSubmission(ctx context.Context, date, batchLabel string) (domain.Submission, bool, error) {
	var row SubmissionModel
	err := s.db.WithContext(ctx).
		Where("date = ? AND batch_label = ?", date, batchLabel).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Submission{}, false, nil
	}
	if err != nil {
		return domain.Submission{}, false, fmt.Errorf("get submission: %w", err)
	}
	var submitted []string
	if len(row.Submitted) > 0 {
		if err := json.Unmarshal(row.Submitted, &submitted); err != nil {
			return domain.Submission{}, false, fmt.Errorf("decode submitted set: %w", err)
		}
	}
	return domain.Submission{Date: row.Date, BatchLabel: row.BatchLabel, Submitted: submitted}, true, nil
}

// ClearSubmissions removes the day's record for a batch (used when a batch
// is reset during reconfiguration).
func (s *GormStore) ClearSubmissions(ctx context.Context, date, batchLabel string) error {
	err := s.db.WithContext(ctx).
		Where("date = ? AND batch_label = ?", date, batchLabel).
		Delete(&SubmissionModel{}).Error
	if err != nil {
		return fmt.Errorf("clear submissions: %w", err)
	}
	return nil
}

func setupFromModel(row SetupModel) (domain.TenantSetup, error) {
	var roster []domain.RosterEntry
	if len(row.Roster) > 0 {
		if err := json.Unmarshal(row.Roster, &roster); err != nil {
			return domain.TenantSetup{}, fmt.Errorf("decode roster: %w", err)
		}
	}
	return domain.TenantSetup{
		TenantID:   row.TenantID,
		GroupID:    row.GroupID,
		BatchLabel: row.BatchLabel,
		StartTime:  row.StartTime,
		ReportTime: row.ReportTime,
		Roster:     roster,
		IsRunning:  row.IsRunning,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}
