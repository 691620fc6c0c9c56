package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SetupModel struct {
	TenantID   string `gorm:"primaryKey"`
	GroupID    string
	BatchLabel string `gorm:"index;not null"`
	StartTime  string `gorm:"not null"`
	ReportTime string `gorm:"not null"`
	Roster     datatypes.JSON `gorm:"type:jsonb"`
	IsRunning  bool           `gorm:"not null"`
	UpdatedAt  time.Time
}

func (SetupModel) TableName() string { return "tenant_setups" }

type StudentModel struct {
	ID         uint   `gorm:"primaryKey"`
	BatchLabel string `gorm:"not null;uniqueIndex:idx_students_batch_member"`
	MemberID   string `gorm:"not null;uniqueIndex:idx_students_batch_member"`
	Name       string `gorm:"not null"`
	// Position preserves roster upload order for report rendering.
	Position int `gorm:"not null"`
}

func (StudentModel) TableName() string { return "students" }

type SubmissionModel struct {
	ID         uint   `gorm:"primaryKey"`
	Date       string `gorm:"not null;uniqueIndex:idx_submissions_date_batch"`
	BatchLabel string `gorm:"not null;uniqueIndex:idx_submissions_date_batch"`
	Submitted  datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time
}

func (SubmissionModel) TableName() string { return "submissions" }
