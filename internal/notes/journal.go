package notes

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ChangeOperation enumerates journaled note operations.
type ChangeOperation string

const (
	// ChangeOperationCreate records a newly created note.
	ChangeOperationCreate ChangeOperation = "create"
	// ChangeOperationUpdate records a full replacement of a note.
	ChangeOperationUpdate ChangeOperation = "update"
	// ChangeOperationDelete records a removed note.
	ChangeOperationDelete ChangeOperation = "delete"
)

var (
	errMissingJournalDatabase = errors.New("journal database handle is required")
	errMissingIDProvider      = errors.New("id provider is required")
)

// ChangeRecord is an append-only audit entry for a note modification.
type ChangeRecord struct {
	ChangeID         string          `gorm:"column:change_id;primaryKey;size:64;not null"`
	NoteKey          string          `gorm:"column:note_key;size:32;not null;index:idx_note_changes_key_time,priority:1"`
	Operation        ChangeOperation `gorm:"column:op;size:16;not null"`
	AppliedAtSeconds int64           `gorm:"column:applied_at_s;not null;index:idx_note_changes_key_time,priority:2"`
	Title            string          `gorm:"column:title;size:200;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeRecord) TableName() string {
	return "note_changes"
}

// Journal stores the change history of notes.
type Journal interface {
	Append(ctx context.Context, record ChangeRecord) error
	History(ctx context.Context, noteKey string) ([]ChangeRecord, error)
}

// GormJournalConfig describes the dependencies of a GormJournal.
type GormJournalConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// GormJournal persists change records through GORM.
type GormJournal struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
}

// NewGormJournal constructs a GormJournal. The schema is expected to be
// migrated by the caller.
func NewGormJournal(cfg GormJournalConfig) (*GormJournal, error) {
	if cfg.Database == nil {
		return nil, errMissingJournalDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GormJournal{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock}, nil
}

// Append stores record, assigning its id and applied time when unset.
func (j *GormJournal) Append(ctx context.Context, record ChangeRecord) error {
	if record.ChangeID == "" {
		changeID, err := j.idProvider.NewID()
		if err != nil {
			return err
		}
		record.ChangeID = changeID
	}
	if record.AppliedAtSeconds == 0 {
		record.AppliedAtSeconds = j.clock().UTC().Unix()
	}
	return j.db.WithContext(ctx).Create(&record).Error
}

// History returns the records of a note, oldest first.
func (j *GormJournal) History(ctx context.Context, noteKey string) ([]ChangeRecord, error) {
	var records []ChangeRecord
	if err := j.db.WithContext(ctx).
		Where("note_key = ?", noteKey).
		Order("applied_at_s ASC").
		Order("change_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
