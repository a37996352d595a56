package journal

import (
	"context"
	"time"

	"ibbridge/internal/model"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRecord is the last known state of one order.
type OrderRecord struct {
	ID            int64           `gorm:"primaryKey;autoIncrement:false"`
	ClientID      int             `gorm:"not null"`
	Account       string          `gorm:"size:32;index"`
	ConID         int64           `gorm:"not null"`
	Symbol        string          `gorm:"size:32"`
	Action        string          `gorm:"size:8"`
	ExecType      string          `gorm:"size:16"`
	Status        string          `gorm:"size:16;index"`
	OCAGroup      string          `gorm:"size:64"`
	Size          decimal.Decimal `gorm:"type:numeric"`
	Price         decimal.Decimal `gorm:"type:numeric"`
	ExecutedSize  decimal.Decimal `gorm:"type:numeric"`
	ExecutedPrice decimal.Decimal `gorm:"type:numeric"`
	Commission    decimal.Decimal `gorm:"type:numeric"`
	PnL           decimal.Decimal `gorm:"type:numeric"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (OrderRecord) TableName() string { return "ibbridge_orders" }

// FillRecord is one execution merged with its commission.
type FillRecord struct {
	ExecID     string          `gorm:"primaryKey;size:64"`
	OrderID    int64           `gorm:"index;not null"`
	Account    string          `gorm:"size:32"`
	ConID      int64           `gorm:"not null"`
	Size       decimal.Decimal `gorm:"type:numeric"`
	Price      decimal.Decimal `gorm:"type:numeric"`
	Opened     decimal.Decimal `gorm:"type:numeric"`
	Closed     decimal.Decimal `gorm:"type:numeric"`
	Commission decimal.Decimal `gorm:"type:numeric"`
	PnL        decimal.Decimal `gorm:"type:numeric"`
	FilledAt   time.Time       `gorm:"index"`
}

func (FillRecord) TableName() string { return "ibbridge_fills" }

// Journal persists order notifications. It is a notification sink.
type Journal struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Name() string { return "postgres" }

func (j *Journal) Migrate() error {
	if err := j.db.AutoMigrate(&OrderRecord{}, &FillRecord{}); err != nil {
		return errors.Wrap(err, "migrate journal")
	}
	return nil
}

// Write upserts the orders of batch and inserts fills not seen before.
func (j *Journal) Write(ctx context.Context, batch []model.Notification) error {
	orders, fills := Records(batch)
	if len(orders) == 0 {
		return nil
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&orders).Error; err != nil {
			return errors.Wrap(err, "upsert orders")
		}
		if len(fills) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fills).Error; err != nil {
			return errors.Wrap(err, "insert fills")
		}
		return nil
	})
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Records maps a batch onto rows. Every order appears once with its latest
// state; fills are deduplicated by execution id.
func Records(batch []model.Notification) ([]OrderRecord, []FillRecord) {
	var (
		orders  []OrderRecord
		fills   []FillRecord
		orderAt = make(map[int64]int)
		seen    = make(map[string]struct{})
	)
	for _, note := range batch {
		o := note.Order
		if !note.Kind.IsOrder() || o == nil {
			continue
		}

		rec := orderRecord(o)
		if i, ok := orderAt[o.ID]; ok {
			orders[i] = rec
		} else {
			orderAt[o.ID] = len(orders)
			orders = append(orders, rec)
		}

		for _, f := range o.Executed.Fills {
			if _, ok := seen[f.ExecID]; ok {
				continue
			}
			seen[f.ExecID] = struct{}{}
			fills = append(fills, FillRecord{
				ExecID:     f.ExecID,
				OrderID:    o.ID,
				Account:    o.Account,
				ConID:      o.Contract.ConID,
				Size:       f.Size,
				Price:      f.Price,
				Opened:     f.Opened,
				Closed:     f.Closed,
				Commission: f.OpenedCommission.Add(f.ClosedCommission),
				PnL:        f.PnL,
				FilledAt:   f.Time,
			})
		}
	}
	return orders, fills
}

func orderRecord(o *model.Order) OrderRecord {
	return OrderRecord{
		ID:            o.ID,
		ClientID:      o.ClientID,
		Account:       o.Account,
		ConID:         o.Contract.ConID,
		Symbol:        o.Contract.Symbol,
		Action:        o.Action.String(),
		ExecType:      o.ExecType.String(),
		Status:        o.Status.String(),
		OCAGroup:      o.OCAGroup,
		Size:          o.Size,
		Price:         o.Price,
		ExecutedSize:  o.Executed.Size,
		ExecutedPrice: o.Executed.Price,
		Commission:    o.Executed.Commission,
		PnL:           o.Executed.PnL,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
