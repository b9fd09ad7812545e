package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// sweepTimeout bounds one maintenance run.
const sweepTimeout = 30 * time.Second

// Maintenance runs Service.Sweep on a cron schedule.
type Maintenance struct {
	cron   *cron.Cron
	logger logging.Logger
}

// NewMaintenance schedules sweeps of svc. schedule accepts standard five
// field cron expressions and descriptors such as "@every 5m".
func NewMaintenance(svc *Service, schedule string, logger logging.Logger) (*Maintenance, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Maintenance{
		cron:   cron.New(),
		logger: logger.With(logging.Component("linking_maintenance")),
	}
	_, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		svc.Sweep(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %v: %w", schedule, err, pferrors.ErrValidation)
	}
	return m, nil
}

// Start begins running sweeps in the background.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Debug("Maintenance scheduled", logging.F("jobs", len(m.cron.Entries())))
}

// Stop prevents further sweeps and waits for a running one to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}
