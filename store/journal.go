package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/stream"
)

// PauseRecord is one pause transition in the journal table.
type PauseRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PrinterID string    `gorm:"size:64;index:idx_pause_printer_at" json:"printer_id"`
	State     string    `gorm:"size:32" json:"state"`
	Reason    string    `gorm:"size:32" json:"reason"`
	Layer     string    `gorm:"size:16" json:"layer,omitempty"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	E         float64   `json:"e"`
	At        time.Time `gorm:"index:idx_pause_printer_at" json:"at"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal appends pause transitions to Postgres.
type Journal struct {
	db     *gorm.DB
	logger logger.Logger
}

// OpenJournal connects to Postgres with dsn and migrates the journal table.
func OpenJournal(dsn string, l logger.Logger) (*Journal, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %w", ErrUnavailable, err)
	}

	return NewJournal(db, l)
}

// NewJournal wraps an open gorm handle and migrates the journal table.
func NewJournal(db *gorm.DB, l logger.Logger) (*Journal, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	if err := db.AutoMigrate(&PauseRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate journal: %w", err)
	}

	return &Journal{db: db, logger: l}, nil
}

// Record appends evt for printerID.
func (j *Journal) Record(ctx context.Context, printerID string, evt stream.PauseEvent) error {
	rec := recordFromEvent(printerID, evt)
	return j.db.WithContext(ctx).Create(&rec).Error
}

// History returns the newest limit records of printerID, newest first.
func (j *Journal) History(ctx context.Context, printerID string, limit int) ([]PauseRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []PauseRecord
	err := j.historyQuery(j.db.WithContext(ctx), printerID, limit).Find(&records).Error

	return records, err
}

// PauseHandler records every pause transition of printerID.
func (j *Journal) PauseHandler(printerID string) stream.PauseEventHandler {
	return func(evt stream.PauseEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := j.Record(ctx, printerID, evt); err != nil {
			j.logger.Warn("pause journal write failed", "printer", printerID, "state", evt.State, "error", err)
		}
	}
}

func (j *Journal) historyQuery(db *gorm.DB, printerID string, limit int) *gorm.DB {
	return db.Model(&PauseRecord{}).
		Where("printer_id = ?", printerID).
		Order("at desc").
		Limit(limit)
}

func recordFromEvent(printerID string, evt stream.PauseEvent) PauseRecord {
	return PauseRecord{
		PrinterID: printerID,
		State:     evt.State.String(),
		Reason:    evt.Reason.String(),
		Layer:     evt.Layer,
		X:         evt.Position.Position.X,
		Y:         evt.Position.Position.Y,
		Z:         evt.Position.Position.Z,
		E:         evt.Position.Extrusion,
		At:        evt.Time,
	}
}
