package worker

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger drops entries that expired before the given instant.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// PurgerFunc adapts a plain function, such as a repository's DeleteExpired.
type PurgerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f PurgerFunc) Purge(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

// Cleanup periodically purges expired rate-limit entries and issued quotes.
// Expiry is checked on read, so a missed pass only costs storage.
type Cleanup struct {
	purgers  map[string]Purger
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewCleanup(purgers map[string]Purger, interval time.Duration, log logrus.FieldLogger) *Cleanup {
	return &Cleanup{
		purgers:  purgers,
		interval: interval,
		log:      log.WithField("worker", "cleanup"),
		now:      time.Now,
	}
}

func (c *Cleanup) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.process(ctx)
		}
	}
}

func (c *Cleanup) process(ctx context.Context) {
	names := make([]string, 0, len(c.purgers))
	for name := range c.purgers {
		names = append(names, name)
	}
	sort.Strings(names)

	now := c.now()
	for _, name := range names {
		n, err := c.purgers[name].Purge(ctx, now)
		log := c.log.WithField("store", name)
		if err != nil {
			log.WithError(err).Warn("purge failed")
			continue
		}
		if n > 0 {
			log.WithField("purged", n).Debug("expired entries purged")
		}
	}
}
