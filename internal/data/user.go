package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// User is the GORM model for the users table.
//
// The email is the natural primary key: every other service addresses a
// principal by email. The IBAN is stored encrypted; iban_hash carries a
// deterministic digest so the uniqueness constraint survives encryption
// producing a different ciphertext per write.
type User struct {
	Email         string    `gorm:"primaryKey;column:email;size:255"`
	Nome          string    `gorm:"column:nome;size:100;not null"`
	Cognome       string    `gorm:"column:cognome;size:100;not null"`
	CodiceFiscale string    `gorm:"column:codice_fiscale;size:16;uniqueIndex;not null"`
	IBANEncrypted string    `gorm:"column:iban_encrypted;type:text;not null"`
	IBANHash      string    `gorm:"column:iban_hash;size:64;uniqueIndex;not null"`
	RequestID     string    `gorm:"column:request_id;size:64;index"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// UserRepo implements biz.UserRepo interface.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type UserRepo struct {
	data   *Data
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewUserRepo creates a new user repository.
func NewUserRepo(data *Data, db *gorm.DB, logger log.Logger) *UserRepo {
	return &UserRepo{
		data:   data,
		db:     db,
		cache:  data.GetCache(),
		logger: log.NewHelper(logger),
	}
}

// CreateUserWithRecord inserts the user and their idempotency record in
// one transaction, so a stored response can never exist without its user
// and a created user can never lack the record a retry would replay.
//
// Two concurrent identical requests race on the primary keys; the loser's
// transaction rolls back and the winner's committed record is re-read and
// returned, so both callers replay the same stored response. A duplicate
// key with no record under this idempotency key is a genuine conflict: a
// different registration already owns the email, codice fiscale or IBAN.
func (r *UserRepo) CreateUserWithRecord(ctx context.Context, user *User, rec *IdempotencyRecord) (*IdempotencyRecord, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err == nil {
		r.logger.Infow("user created", "email", user.Email)
		return rec, nil
	}

	dbErr := pkgerrors.ClassifyDBError(err)
	if dbErr.Type != pkgerrors.ErrorTypeDuplicateKey {
		r.logger.Errorw("failed to create user",
			"email", user.Email,
			"error", dbErr.Error())
		return nil, dbErr
	}

	var winner IdempotencyRecord
	readErr := r.db.WithContext(ctx).
		Where("idempotency_key = ?", rec.Key).
		First(&winner).Error
	if readErr == nil {
		r.logger.Infow("registration race lost, replaying winner",
			"email", user.Email, "request_id", rec.RequestID)
		return &winner, nil
	}
	if !errors.Is(readErr, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to read winning idempotency record: %w", readErr)
	}

	r.logger.Warnw("duplicate user", "email", user.Email, "error", dbErr.Error())
	return nil, dbErr
}

// GetUser retrieves a user by email with caching.
// Cache key: "user:{email}", TTL: 5 minutes.
func (r *UserRepo) GetUser(ctx context.Context, email string) (*User, error) {
	cacheKey := BuildCacheKey(CacheKeyUser, email)

	var cached User
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		r.logger.Debugw("user cache hit", "email", email)
		return &cached, nil
	}

	var user User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ClassifyDBError(err)
		}
		r.logger.Errorf("failed to get user: %v", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := r.cache.Set(ctx, cacheKey, &user, TTLUser); err != nil {
		r.logger.Warnw("failed to cache user", "email", email, "error", err)
		// Cache failure doesn't affect the operation
	}

	r.logger.Debugw("user fetched from database", "email", email)
	return &user, nil
}

// ListUsers returns every registered user, oldest first. Not cached:
// the listing is an admin surface, not a hot path.
func (r *UserRepo) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		r.logger.Errorf("failed to list users: %v", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ExistsUser reports whether a user with the given email is registered.
// It deliberately bypasses the cache: existence checks back authorization
// decisions and must not return stale positives after a deletion.
func (r *UserRepo) ExistsUser(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		r.logger.Errorf("failed to check user existence: %v", err)
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return count > 0, nil
}

// DeleteUser removes a user row and invalidates its cache entry.
// Deleting an absent user returns a not-found classified error so the
// caller can decide whether that is a problem.
func (r *UserRepo) DeleteUser(ctx context.Context, email string) error {
	result := r.db.WithContext(ctx).Where("email = ?", email).Delete(&User{})
	if result.Error != nil {
		dbErr := pkgerrors.ClassifyDBError(result.Error)
		r.logger.Errorw("failed to delete user", "email", email, "error", dbErr.Error())
		return dbErr
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ClassifyDBError(gorm.ErrRecordNotFound)
	}

	if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyUser, email)); err != nil {
		r.logger.Warnw("failed to invalidate user cache", "email", email, "error", err)
	}

	r.logger.Infow("user deleted", "email", email)
	return nil
}
