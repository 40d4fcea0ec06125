package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"moneymarket/core/types"
)

// Transfer statuses.
const (
	StatusPending = "PENDING"
	StatusSettled = "SETTLED"
)

// TransferRecord is one persisted transfer instruction.
type TransferRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TxID      string    `gorm:"index;not null"`
	Seq       int       `gorm:"not null"`
	Recipient string    `gorm:"index;not null"`
	Denom     string    `gorm:"not null"`
	Amount    string    `gorm:"not null"`
	Status    string    `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open connects to the settlement database. DSNs starting with postgres:// or
// postgresql:// use Postgres; anything else is treated as a SQLite DSN.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("settlement: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return gorm.Open(postgres.Open(trimmed), cfg)
	}
	return gorm.Open(sqlite.Open(trimmed), cfg)
}

// Outbox persists transfer instructions until an external settlement worker
// marks them settled.
type Outbox struct {
	db *gorm.DB
}

// NewOutbox migrates the schema and returns the outbox.
func NewOutbox(db *gorm.DB) (*Outbox, error) {
	if db == nil {
		return nil, fmt.Errorf("settlement: database required")
	}
	if err := db.AutoMigrate(&TransferRecord{}); err != nil {
		return nil, fmt.Errorf("settlement: migrate: %w", err)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Settle(ctx context.Context, txID string, transfers []types.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	records := make([]TransferRecord, 0, len(transfers))
	for i, transfer := range transfers {
		records = append(records, TransferRecord{
			ID:        uuid.New(),
			TxID:      txID,
			Seq:       i,
			Recipient: transfer.Recipient.String(),
			Denom:     transfer.Denom,
			Amount:    types.FormatAmount(transfer.Amount),
			Status:    StatusPending,
		})
	}
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
}

// Revert deletes the pending instructions of txID.
func (o *Outbox) Revert(ctx context.Context, txID string) error {
	return o.db.WithContext(ctx).
		Where("tx_id = ? AND status = ?", txID, StatusPending).
		Delete(&TransferRecord{}).Error
}

// Pending lists unsettled instructions, oldest first. An empty recipient
// lists every recipient.
func (o *Outbox) Pending(ctx context.Context, recipient string) ([]TransferRecord, error) {
	query := o.db.WithContext(ctx).Where("status = ?", StatusPending)
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		query = query.Where("recipient = ?", recipient)
	}
	var records []TransferRecord
	if err := query.Order("created_at ASC").Order("seq ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSettled flips a pending instruction to settled.
func (o *Outbox) MarkSettled(ctx context.Context, id uuid.UUID) error {
	result := o.db.WithContext(ctx).Model(&TransferRecord{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusSettled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferNotFound
	}
	return nil
}
