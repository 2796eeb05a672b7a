package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"escrowledger/core/types"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EscrowEvent is one persisted ledger event.
type EscrowEvent struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Sequence   uint64            `gorm:"uniqueIndex;not null"`
	TxID       uint64            `gorm:"index;not null"`
	Type       string            `gorm:"index;not null"`
	Actor      string            `gorm:"index"`
	Status     string            `gorm:"not null"`
	Attributes map[string]string `gorm:"serializer:json;type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name.
func (EscrowEvent) TableName() string { return "escrow_events" }

// Open connects to the audit database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the audit tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EscrowEvent{})
}

// Recorder persists every event it handles. It implements events.Sink; write
// failures are logged and do not reach the ledger caller.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewRecorder resumes sequence numbering from the highest stored event.
func NewRecorder(db *gorm.DB, log *slog.Logger) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	var last struct{ Max *uint64 }
	if err := db.Model(&EscrowEvent{}).Select("MAX(sequence) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("audit: load sequence: %w", err)
	}
	r := &Recorder{db: db, logger: log, nowFn: time.Now}
	if last.Max != nil {
		r.seq = *last.Max
	}
	return r, nil
}

// Handle implements events.Sink.
func (r *Recorder) Handle(evt *types.Event) {
	if err := r.Record(context.Background(), evt); err != nil {
		r.logger.Error("audit: record event", "type", evt.Type, "error", err)
	}
}

// Record stores evt.
func (r *Recorder) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	txID, err := strconv.ParseUint(evt.Attr("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("audit: event %s has no transaction id", evt.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := EscrowEvent{
		ID:         uuid.New(),
		Sequence:   r.seq + 1,
		TxID:       txID,
		Type:       evt.Type,
		Actor:      evt.Attr("actor"),
		Status:     evt.Attr("status"),
		Attributes: evt.Clone().Attributes,
		CreatedAt:  r.nowFn().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	r.seq = row.Sequence
	return nil
}

// History returns the events recorded for a transaction in emission order.
func (r *Recorder) History(ctx context.Context, txID uint64) ([]EscrowEvent, error) {
	var rows []EscrowEvent
	err := r.db.WithContext(ctx).
		Where("tx_id = ?", txID).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
