// Package history persists every broadcast governance transaction and its
// outcome, and exports the log as CSV or parquet.
package history

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nounsgov/observability"
	"nounsgov/txflow"
)

// ErrNotFound is returned when no record matches a hash.
var ErrNotFound = errors.New("history: record not found")

const defaultListLimit = 100

// Store is a gorm-backed txflow.HistoryRecorder.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ txflow.HistoryRecorder = (*Store)(nil)

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the
// schema.
func Open(driver, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history: dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordBroadcast inserts a pending record. A hash that is already stored is
// left unchanged.
func (s *Store) RecordBroadcast(ctx context.Context, b txflow.Broadcast) error {
	at := b.At
	if at.IsZero() {
		at = s.now()
	}
	rec := Record{
		ID:          uuid.New(),
		TrackerID:   b.TrackerID,
		Hash:        b.Hash.Hex(),
		ChainID:     bigString(b.ChainID),
		Sender:      b.From.Hex(),
		Target:      b.To.Hex(),
		ValueWei:    bigString(b.Value),
		GasLimit:    b.Gas,
		Type:        string(b.Logging.Type),
		Description: b.Logging.Description,
		Status:      StatusPending,
		CreatedAt:   at.UTC(),
		UpdatedAt:   at.UTC(),
	}
	var existing int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Where("hash = ?", rec.Hash).Count(&existing).Error; err != nil {
		return fmt.Errorf("history: lookup %s: %w", rec.Hash, err)
	}
	if existing > 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("history: insert %s: %w", rec.Hash, err)
	}
	observability.History().RecordWrite(rec.Type, string(rec.Status))
	return nil
}

// RecordOutcome settles the record for hash.
func (s *Store) RecordOutcome(ctx context.Context, hash common.Hash, state txflow.State, receipt *gethtypes.Receipt, cause error) error {
	status := StatusFailed
	if state == txflow.StateSuccess {
		status = StatusSuccess
	}
	now := s.now().UTC()
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": now,
		"settled_at": now,
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}
	if receipt != nil {
		if receipt.BlockNumber != nil {
			updates["block_number"] = receipt.BlockNumber.Uint64()
		}
		updates["gas_used"] = receipt.GasUsed
	}
	res := s.db.WithContext(ctx).Model(&Record{}).Where("hash = ?", hash.Hex()).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("history: settle %s: %w", hash.Hex(), res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	var rec Record
	if err := s.db.WithContext(ctx).Select("type").Where("hash = ?", hash.Hex()).First(&rec).Error; err == nil {
		observability.History().RecordWrite(rec.Type, string(status))
	}
	return nil
}

// Get returns the record for hash.
func (s *Store) Get(ctx context.Context, hash common.Hash) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("hash = ?", hash.Hex()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", hash.Hex(), err)
	}
	return &rec, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Sender common.Address
	Type   txflow.TxType
	Status Status
	Since  time.Time
	Until  time.Time
	Limit  int
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	q := s.db.WithContext(ctx).Model(&Record{})
	if f.Sender != (common.Address{}) {
		q = q.Where("sender = ?", f.Sender.Hex())
	}
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []Record
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
