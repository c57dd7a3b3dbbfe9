package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nl-bioimaging/slurmbridge/src/application"
	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
	"github.com/nl-bioimaging/slurmbridge/src/domain/repository"
	"github.com/nl-bioimaging/slurmbridge/src/infrastructure/persistence"
)

// MissingJobGracePeriod is how long a job may lack a sacct record before it
// is no longer tracked.
const MissingJobGracePeriod = 15 * time.Minute

type JobService interface {
	Submit(context.Context, domain.WorkflowRequest) (domain.Job, error)
	Refresh(context.Context, *domain.Job) error
	GetById(int64) (domain.Job, error)
	GetActive() ([]*domain.Job, error)
	GetAll(*repository.Page) ([]*domain.Job, error)
}

type jobService struct {
	logger        zerolog.Logger
	jobRepository repository.JobRepository
	slurmService  SlurmService
	metrics       *application.Metrics
}

func NewJobService(db config.PgxIface, slurmService SlurmService, metrics *application.Metrics, logger *zerolog.Logger) JobService {
	return &jobService{
		logger:        logger.With().Str("component", "JobService").Logger(),
		jobRepository: persistence.NewJobRepository(db),
		slurmService:  slurmService,
		metrics:       metrics,
	}
}

// Submit starts the workflow on Slurm and starts tracking the job.
func (self jobService) Submit(ctx context.Context, req domain.WorkflowRequest) (job domain.Job, err error) {
	_, id, err := self.slurmService.RunWorkflow(ctx, req)
	if err != nil {
		return
	}
	if id < 0 {
		err = errors.Errorf("Could not find the job ID of workflow %q in the output of sbatch", req.Workflow)
		return
	}
	self.metrics.JobSubmitted(req.Workflow)

	job = domain.Job{
		ID:        id,
		Workflow:  req.Workflow,
		InputData: req.InputData,
		State:     domain.JobStatePending,
	}
	if err = self.jobRepository.Save(&job); err != nil {
		self.logger.Warn().Err(err).Int64("slurm-job-id", id).Str("workflow", req.Workflow).
			Msg("Job was submitted to Slurm but is not tracked")
		err = errors.WithMessagef(err, "Could not insert Job %d, it was submitted to Slurm but is not tracked", id)
		return
	}

	self.logger.Debug().Int64("slurm-job-id", id).Msg("Tracking job")
	return
}

// Refresh updates the job's state and progress from Slurm and persists them.
func (self jobService) Refresh(ctx context.Context, job *domain.Job) error {
	logger := self.logger.With().Int64("slurm-job-id", job.ID).Logger()

	missing := false
	status, err := self.slurmService.CheckJobStatus(ctx, job.ID)
	if errors.Is(err, domain.ErrNoJobStatus) && time.Since(job.SubmittedAt) > MissingJobGracePeriod {
		logger.Warn().Err(err).Time("submitted-at", job.SubmittedAt).Msg("Slurm has no record of job, no longer tracking it")
		status = domain.JobStatus{ID: job.ID, State: domain.JobStateUnknown}
		missing = true
	} else if err != nil {
		return err
	}

	if status.State == domain.JobStateRunning {
		if progress, err := self.slurmService.GetActiveJobProgress(ctx, job.ID, ""); err != nil {
			logger.Trace().Err(err).Msg("No progress")
		} else {
			job.Progress = &progress
		}
	}

	changed := job.State != status.State
	job.State = status.State

	if (status.State.IsTerminal() || missing) && job.FinishedAt == nil {
		finishedAt := time.Now().UTC()
		if status.End != nil {
			finishedAt = status.End.UTC()
		}
		job.FinishedAt = &finishedAt
		self.metrics.JobFinished(status.State.String())
		changed = true
	}

	if changed {
		logger.Info().Str("state", job.State.String()).Msg("Job state changed")
	}

	if err := self.jobRepository.Update(job); err != nil {
		return errors.WithMessagef(err, "Could not update Job %d", job.ID)
	}
	return nil
}

func (self jobService) GetById(id int64) (job domain.Job, err error) {
	self.logger.Trace().Int64("slurm-job-id", id).Msg("Getting Job by ID")
	job, err = self.jobRepository.GetById(id)
	err = errors.WithMessagef(err, "Could not select existing Job by ID %d", id)
	return
}

func (self jobService) GetActive() (jobs []*domain.Job, err error) {
	self.logger.Trace().Msg("Getting active Jobs")
	jobs, err = self.jobRepository.GetActive()
	err = errors.WithMessage(err, "Could not select active Jobs")
	return
}

func (self jobService) GetAll(page *repository.Page) (jobs []*domain.Job, err error) {
	self.logger.Trace().Int("offset", page.Offset).Int("limit", page.Limit).Msg("Getting all Jobs")
	jobs, err = self.jobRepository.GetAll(page)
	err = errors.WithMessagef(err, "Could not select existing Jobs with offset %d and limit %d", page.Offset, page.Limit)
	return
}
