package hosts

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/libbitcoin/network/internal/errcode"
)

// Autosaver periodically persists a Pool to disk on a cron schedule,
// independent of the stop-time save every Pool already performs. This
// bounds data loss on an unclean shutdown without requiring every pool
// mutation to hit disk.
type Autosaver struct {
	cron   *cron.Cron
	pool   *Pool
	logger *zap.Logger
}

// NewAutosaver builds an Autosaver for pool on the given cron
// schedule (standard five-field cron expression, e.g. "*/5 * * * *").
func NewAutosaver(pool *Pool, schedule string, logger *zap.Logger) (*Autosaver, error) {
	c := cron.New()
	a := &Autosaver{cron: c, pool: pool, logger: logger}

	if _, err := c.AddFunc(schedule, a.tick); err != nil {
		return nil, err
	}
	return a, nil
}

// Start begins the cron schedule.
func (a *Autosaver) Start() { a.cron.Start() }

// Stop ends the cron schedule and blocks until any in-flight tick
// completes.
func (a *Autosaver) Stop() { <-a.cron.Stop().Done() }

func (a *Autosaver) tick() {
	a.pool.Save(func(code errcode.Code) {
		if code != errcode.Success {
			a.logger.Warn("address pool autosave failed", zap.String("code", code.String()))
			return
		}
		a.logger.Debug("address pool autosaved", zap.Int("count", a.pool.Count()))
	})
}
