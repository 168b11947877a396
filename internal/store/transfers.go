package store

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/transfer"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransferStore struct {
	DB *gorm.DB
}

var _ transfer.HistoryStore = (*TransferStore)(nil)

func NewTransferStore(db *gorm.DB) *TransferStore {
	return &TransferStore{DB: db}
}

// AddTransfer stores r; recording the same transfer twice is a no-op.
func (ts *TransferStore) AddTransfer(ctx context.Context, r transfer.Record) error {
	row := Transfer{
		TransferID: r.TransferID,
		Direction:  string(r.Direction),
		FileName:   r.FileName,
		Size:       r.Size,
		Peer:       r.Peer,
		Path:       r.Path,
		CreatedAt:  r.At.UnixMilli(),
	}
	return ts.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// RecentTransfers returns up to limit records, newest first.
func (ts *TransferStore) RecentTransfers(ctx context.Context, limit int) ([]transfer.Record, error) {
	var rows []Transfer
	err := ts.DB.WithContext(ctx).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]transfer.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, transfer.Record{
			TransferID: row.TransferID,
			FileName:   row.FileName,
			Size:       row.Size,
			Direction:  transfer.Direction(row.Direction),
			Peer:       row.Peer,
			Path:       row.Path,
			At:         time.UnixMilli(row.CreatedAt),
		})
	}
	return records, nil
}

func (ts *TransferStore) ClearTransfers(ctx context.Context) error {
	return ts.DB.WithContext(ctx).Where("1 = 1").Delete(&Transfer{}).Error
}

func (ts *TransferStore) CountTransfers(ctx context.Context) (int64, error) {
	var n int64
	err := ts.DB.WithContext(ctx).Model(&Transfer{}).Count(&n).Error
	return n, err
}
