package store

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/common"
)

// retryOnLock retries op while SQLite reports lock contention.
// Backoff: 100ms, 200ms, 400ms.
func retryOnLock(log zerolog.Logger, op func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i <= maxRetries; i++ {
		err = op()
		if err == nil || !isLockError(err) || i == maxRetries {
			return err
		}

		delay := baseDelay * time.Duration(1<<i)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("database locked")
		time.Sleep(delay)
	}
	return err
}

func isLockError(err error) bool {
	return common.HasAny(err.Error(), "database is locked", "database table is locked", "SQLITE_BUSY")
}
