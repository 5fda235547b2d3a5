package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the persisted outcome of a broadcast transaction.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Record is one broadcast governance transaction.
type Record struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TrackerID   string     `gorm:"size:64;index" json:"trackerId"`
	Hash        string     `gorm:"size:66;uniqueIndex" json:"hash"`
	ChainID     string     `gorm:"size:32" json:"chainId"`
	Sender      string     `gorm:"size:42;index" json:"sender"`
	Target      string     `gorm:"size:42" json:"target"`
	ValueWei    string     `gorm:"size:80" json:"valueWei"`
	GasLimit    uint64     `json:"gasLimit"`
	Type        string     `gorm:"size:32;index" json:"type"`
	Description string     `json:"description"`
	Status      Status     `gorm:"size:16;index" json:"status"`
	Error       string     `json:"error,omitempty"`
	BlockNumber uint64     `json:"blockNumber,omitempty"`
	GasUsed     uint64     `json:"gasUsed,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

// AutoMigrate applies the history schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}
