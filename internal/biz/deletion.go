package biz

import (
	"context"
	"fmt"
	"time"

	"flightwatch/internal/model"
	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// CollectorRPC is the slice of the data-collector surface the deletion
// saga needs. Implementation is rpc.CollectorClient.
type CollectorRPC interface {
	DeleteDownstreamState(ctx context.Context, email string) (int64, error)
}

// localDeleteAttempts bounds the retries of the local delete after the
// downstream cleanup already succeeded.
const localDeleteAttempts = 3

// DeletionUsecase runs the cross-service account deletion saga.
//
// Order matters: the downstream state goes first. If the collector cannot
// be cleaned, nothing local is touched and the whole operation can be
// retried. Once the collector is clean, the local delete is retried a few
// times; if it still fails, the outcome says so explicitly so an operator
// can finish the job, and re-running the saga is harmless because the
// downstream delete is idempotent.
type DeletionUsecase struct {
	users     UserRepo
	collector CollectorRPC
	logger    *log.Helper

	// sleep is swappable so tests do not wait out the backoff.
	sleep func(time.Duration)
}

// NewDeletionUsecase creates a deletion usecase.
func NewDeletionUsecase(users UserRepo, collector CollectorRPC, logger log.Logger) *DeletionUsecase {
	return &DeletionUsecase{
		users:     users,
		collector: collector,
		logger:    log.NewHelper(logger),
		sleep:     time.Sleep,
	}
}

// DeleteAccount removes a user everywhere. It returns how far the saga
// got and, on full or partial success, how many downstream subscriptions
// were removed.
func (uc *DeletionUsecase) DeleteAccount(ctx context.Context, email string) (model.SagaOutcome, int64, error) {
	exists, err := uc.users.ExistsUser(ctx, email)
	if err != nil {
		return model.SagaNotStarted, 0, fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return model.SagaNotStarted, 0, ErrUserNotFound
	}

	removed, err := uc.collector.DeleteDownstreamState(ctx, email)
	if err != nil {
		uc.logger.Errorw("downstream cleanup failed, aborting deletion",
			"email", email, "error", err)
		return model.SagaPivotFailed, 0, fmt.Errorf("downstream cleanup failed: %w", err)
	}
	uc.logger.Infow("downstream state removed",
		"email", email, "subscriptions", removed)

	var lastErr error
	for attempt := 1; attempt <= localDeleteAttempts; attempt++ {
		if attempt > 1 {
			uc.sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}

		err := uc.users.DeleteUser(ctx, email)
		if err == nil {
			uc.logger.Infow("account deleted", "email", email)
			return model.SagaCompleted, removed, nil
		}
		if pkgerrors.IsNotFoundError(err) {
			// A concurrent delete finished the job. Same outcome.
			return model.SagaCompleted, removed, nil
		}
		lastErr = err
		uc.logger.Warnw("local delete failed",
			"email", email, "attempt", attempt, "error", err)
	}

	uc.logger.Errorw("local delete exhausted retries, manual cleanup required",
		"email", email, "error", lastErr)
	return model.SagaLocalPending, removed, fmt.Errorf("local delete failed after downstream cleanup: %w", lastErr)
}
