// Package ledger stores distribution records with gorm and keeps an
// in-process copy for when the database is briefly unreachable.
package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Distribution is the `distributions` row.
type Distribution struct {
	TransactionID string `gorm:"primaryKey;size:128"`
	Status        string `gorm:"size:16;index;not null"`
	TargetAmount  string `gorm:"size:80"`
	Recipient     string `gorm:"size:64"`
	TxHash        string `gorm:"size:66;index"`
	AmountSent    string `gorm:"size:80"`
	ErrorMessage  string `gorm:"size:1024"`
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Distribution) TableName() string { return "distributions" }

func (d Distribution) toDomain() *domain.TransactionRecord {
	return &domain.TransactionRecord{
		TransactionID: d.TransactionID,
		Status:        domain.Status(d.Status),
		TargetAmount:  d.TargetAmount,
		Recipient:     d.Recipient,
		TxHash:        d.TxHash,
		AmountSent:    d.AmountSent,
		ErrorMessage:  d.ErrorMessage,
		CompletedAt:   d.CompletedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func fromDomain(r domain.TransactionRecord) Distribution {
	return Distribution{
		TransactionID: r.TransactionID,
		Status:        string(r.Status),
		TargetAmount:  r.TargetAmount,
		Recipient:     r.Recipient,
		TxHash:        r.TxHash,
		AmountSent:    r.AmountSent,
		ErrorMessage:  r.ErrorMessage,
		CompletedAt:   r.CompletedAt,
	}
}

// GormStore is the durable ledger.
type GormStore struct {
	db     *gorm.DB
	logger logger.LoggerInterface
}

func NewGormStore(db *gorm.DB, log logger.LoggerInterface) *GormStore {
	return &GormStore{db: db, logger: log}
}

// Migrate creates or updates the distributions table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Distribution{})
}

func (s *GormStore) Get(ctx context.Context, transactionID string) (*domain.TransactionRecord, error) {
	var row Distribution
	err := s.db.WithContext(ctx).First(&row, "transaction_id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.CodeRecordNotFound, apperror.WithContext(transactionID))
	}
	if err != nil {
		return nil, apperror.New(apperror.CodeLedgerUnavailable, apperror.WithContext(transactionID), apperror.WithCause(err))
	}
	return row.toDomain(), nil
}

// Update writes u, creating the record when missing. A completed record
// is never moved back to another status.
func (s *GormStore) Update(ctx context.Context, transactionID string, u domain.RecordUpdate) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Distribution
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "transaction_id = ?", transactionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec := domain.TransactionRecord{TransactionID: transactionID}.Apply(u)
			created := fromDomain(rec)
			return tx.Create(&created).Error
		}
		if err != nil {
			return err
		}

		current := row.toDomain()
		if current.Regresses(u) {
			return apperror.New(apperror.CodeLedgerRegression,
				apperror.WithContext(transactionID+": completed -> "+string(u.Status)))
		}

		next := fromDomain(current.Apply(u))
		next.CreatedAt = row.CreatedAt
		return tx.Save(&next).Error
	})

	var appErr *apperror.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	default:
		return apperror.New(apperror.CodeLedgerUnavailable, apperror.WithContext(transactionID), apperror.WithCause(err))
	}
}

// List returns the most recently updated records, optionally by status.
func (s *GormStore) List(ctx context.Context, status domain.Status, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var rows []Distribution
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperror.New(apperror.CodeLedgerUnavailable, apperror.WithCause(err))
	}
	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
