package scheduler

import (
	"time"

	"github.com/smallbiznis/referralledger/internal/config"
)

// Config controls sweep cadence, batch size and worker fan-out.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	Workers     int
	JobTimeout  time.Duration
	LeaderLock  bool
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		BatchSize:   200,
		Workers:     4,
		JobTimeout:  10 * time.Minute,
		LeaderLock:  true,
		LockTTL:     15 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		BatchSize:   cfg.Scheduler.BatchSize,
		Workers:     cfg.Scheduler.Workers,
		LeaderLock:  cfg.Scheduler.LeaderLockEnabled,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	// lock outlives the job timeout
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout + time.Minute
	}
	return c
}
