package sales

import (
	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
)

// DefaultMaxRetries is the number of failed attempts after which a sale needs attention
const DefaultMaxRetries = 5

// RetryPolicy decides where a sale goes after an upload attempt.
// There is no backoff: a re-armed sale is eligible on the next run.
type RetryPolicy struct {
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries}
}

// Transition is the state a sale moves to
type Transition struct {
	Status     models.SyncStatus
	RetryCount int
}

// Next maps (status, retryCount, attempt error) to the next state. Only a
// sale that is syncing moves; other states are returned unchanged.
//
//	success                      -> synced
//	validation error             -> failed
//	network / remote rejection   -> pending, or failed once retries reach MaxRetries
func (p RetryPolicy) Next(status models.SyncStatus, retryCount int, attemptErr error) Transition {
	if status != models.SyncSyncing {
		return Transition{Status: status, RetryCount: retryCount}
	}
	if attemptErr == nil {
		return Transition{Status: models.SyncSynced, RetryCount: retryCount}
	}

	retryCount++
	if apperrors.IsKind(attemptErr, apperrors.KindValidation) {
		return Transition{Status: models.SyncFailed, RetryCount: retryCount}
	}
	if retryCount >= p.max() {
		return Transition{Status: models.SyncFailed, RetryCount: retryCount}
	}
	return Transition{Status: models.SyncPending, RetryCount: retryCount}
}

// Rearm is the manual failed -> pending move; the retry budget starts over
func (p RetryPolicy) Rearm(status models.SyncStatus, retryCount int) (Transition, bool) {
	if status != models.SyncFailed {
		return Transition{Status: status, RetryCount: retryCount}, false
	}
	return Transition{Status: models.SyncPending, RetryCount: 0}, true
}

func (p RetryPolicy) max() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}
