package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

// Hot cache sizing. Blind client retries arrive within seconds of the
// original request, so a small in-process window absorbs most replays
// without touching MySQL.
const (
	hotCacheEntries = 4096
	hotCacheTTL     = 5 * time.Minute
)

// IdempotencyRecord is the GORM model for the idempotency_records table.
//
// The key is the hash of (caller identity, request identifier): the same
// logical request always lands on the same row, so the first writer wins
// the primary key and every retry replays the stored response.
type IdempotencyRecord struct {
	Key        string    `gorm:"primaryKey;column:idempotency_key;size:64"`
	RequestID  string    `gorm:"column:request_id;size:64;not null"`
	BodyDigest string    `gorm:"column:body_digest;size:64;not null"`
	StatusCode int       `gorm:"column:status_code;not null"`
	Response   string    `gorm:"column:response;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName specifies the table name for GORM.
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

// IdempotencyRepo implements biz.IdempotencyRepo interface.
type IdempotencyRepo struct {
	db     *gorm.DB
	hot    *expirable.LRU[string, *IdempotencyRecord]
	logger *log.Helper
}

// NewIdempotencyRepo creates a new idempotency repository.
func NewIdempotencyRepo(db *gorm.DB, logger log.Logger) *IdempotencyRepo {
	return &IdempotencyRepo{
		db:     db,
		hot:    expirable.NewLRU[string, *IdempotencyRecord](hotCacheEntries, nil, hotCacheTTL),
		logger: log.NewHelper(logger),
	}
}

// Get retrieves a stored response by idempotency key.
// Returns a not-found classified error when the request was never completed.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	if rec, ok := r.hot.Get(key); ok {
		return rec, nil
	}

	var rec IdempotencyRecord
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ClassifyDBError(err)
		}
		r.logger.Errorf("failed to get idempotency record: %v", err)
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	r.hot.Add(key, &rec)
	return &rec, nil
}

// PurgeExpired deletes records older than the cutoff and returns how many
// rows were removed. It runs from a periodic sweep; once a record expires,
// a retry of the same request is treated as a brand new one.
func (r *IdempotencyRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&IdempotencyRecord{})
	if result.Error != nil {
		r.logger.Errorf("failed to purge idempotency records: %v", result.Error)
		return 0, fmt.Errorf("failed to purge idempotency records: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		r.logger.Infow("purged expired idempotency records", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
