package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ExpiredCounterDeleter is implemented by counter backends without native TTL.
type ExpiredCounterDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RunCounterSweeper deletes counters past their expireAt every interval until
// ctx is done.
func RunCounterSweeper(ctx context.Context, deleter ExpiredCounterDeleter, interval time.Duration, clock Clock, log *logrus.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := deleter.DeleteExpired(ctx, clock.Now().UTC())
			if err != nil {
				log.Warnf("Sweeper: deleting expired counters failed: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("Sweeper: deleted %d expired counters", n)
			}
		}
	}
}
