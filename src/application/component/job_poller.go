package component

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nl-bioimaging/slurmbridge/src/application/service"
)

const DefaultPollInterval = 30 * time.Second

// JobPoller keeps the state of tracked jobs in sync with Slurm.
type JobPoller struct {
	Logger     zerolog.Logger
	JobService service.JobService
	Interval   time.Duration
	// Concurrency limits the number of jobs refreshed at once,
	// they all share one SSH connection.
	Concurrency int
}

func (self *JobPoller) Start(ctx context.Context) error {
	interval := self.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	self.Logger.Info().Dur("interval", interval).Msg("Starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := self.Poll(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll refreshes every active job once. Failing to refresh a single job is
// logged and does not stop the others.
func (self *JobPoller) Poll(ctx context.Context) error {
	jobs, err := self.JobService.GetActive()
	if err != nil {
		return errors.WithMessage(err, "Could not get active jobs")
	}

	self.Logger.Debug().Int("jobs", len(jobs)).Msg("Polling jobs")

	group, groupCtx := errgroup.WithContext(ctx)
	if self.Concurrency > 0 {
		group.SetLimit(self.Concurrency)
	} else {
		group.SetLimit(4)
	}

	for _, job := range jobs {
		job := job
		group.Go(func() error {
			if err := self.JobService.Refresh(groupCtx, job); err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				self.Logger.Warn().Err(err).Int64("slurm-job-id", job.ID).Msg("Could not refresh job")
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
