package pipeline

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
)

// Config sizes the pipeline.
type Config struct {
	// AnalysisWorkers is the number of concurrent analysis tasks. The
	// serialization stage always runs one worker.
	AnalysisWorkers int `yaml:"analysis_workers"`
	// ShutdownTimeout bounds how long Shutdown waits for both stages.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// StatusTTL is the soft expiry of progress entries.
	StatusTTL time.Duration `yaml:"status_ttl"`
	// PollInterval is how long an idle worker blocks on its queue.
	PollInterval time.Duration `yaml:"poll_interval"`
	// SweepSchedule is the cron schedule of the maintenance job.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		AnalysisWorkers: 4,
		ShutdownTimeout: 30 * time.Second,
		StatusTTL:       30 * time.Minute,
		PollInterval:    100 * time.Millisecond,
		SweepSchedule:   "@every 5m",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AnalysisWorkers < 1 {
		return fmt.Errorf("analysis_workers must be >= 1, got %d: %w", c.AnalysisWorkers, pferrors.ErrValidation)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive: %w", pferrors.ErrValidation)
	}
	if c.StatusTTL < 0 {
		return fmt.Errorf("status_ttl must not be negative: %w", pferrors.ErrValidation)
	}
	if c.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("sweep_schedule %q: %v: %w", c.SweepSchedule, err, pferrors.ErrValidation)
		}
	}
	return nil
}
