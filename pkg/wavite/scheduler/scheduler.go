// Package scheduler periodically reconciles every registered instance with
// the provider.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"go.uber.org/zap"
)

// runTimeout bounds a whole reconciliation pass.
const runTimeout = 5 * time.Minute

// Scheduler runs SyncAll on a cron schedule.
type Scheduler struct {
	instances *instances.Service
	dir       *groups.Directory
	schedule  string
	log       *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New validates the schedule and returns a stopped scheduler. An empty
// schedule disables periodic sync.
func New(inst *instances.Service, dir *groups.Directory, schedule string, log *zap.Logger) (*Scheduler, error) {
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
		}
	}
	return &Scheduler{
		instances: inst,
		dir:       dir,
		schedule:  schedule,
		log:       log.Named("scheduler"),
	}, nil
}

// Start begins running the sync job. Overlapping runs are skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.log.Info("periodic sync disabled")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	logger := cron.PrintfLogger(zap.NewStdLog(s.log))
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("periodic sync scheduled", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for a running job to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := s.SyncAll(ctx); err != nil {
		s.log.Warn("periodic sync finished with errors", zap.Error(err))
	}
}

// SyncAll syncs every registered instance. A failing instance does not stop
// the others; all failures are returned together.
func (s *Scheduler) SyncAll(ctx context.Context) error {
	all, err := s.instances.All(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	var errs *multierror.Error
	for _, inst := range all {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		if _, err := s.dir.SyncGroupsFromEvolution(ctx, inst.TenantID, inst.Name); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("instance %s: %w", inst.Name, err))
		}
	}
	return errs.ErrorOrNil()
}
