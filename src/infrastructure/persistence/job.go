package persistence

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
	"github.com/nl-bioimaging/slurmbridge/src/domain/repository"
)

type jobRepository struct {
	DB config.PgxIface
}

func NewJobRepository(db config.PgxIface) repository.JobRepository {
	return &jobRepository{db}
}

func (a jobRepository) GetById(id int64) (job domain.Job, err error) {
	err = pgxscan.Get(
		context.Background(), a.DB, &job,
		`SELECT * FROM slurm_job WHERE id = $1`,
		id,
	)
	return
}

func (a jobRepository) GetActive() (jobs []*domain.Job, err error) {
	err = pgxscan.Select(
		context.Background(), a.DB, &jobs,
		`SELECT * FROM slurm_job WHERE finished_at IS NULL ORDER BY submitted_at ASC`,
	)
	return
}

func (a jobRepository) GetAll(page *repository.Page) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, page.Limit)
	return jobs, fetchPage(
		context.Background(), a.DB, page, &jobs,
		`*`, `slurm_job`, `submitted_at DESC`,
	)
}

func (a jobRepository) Save(job *domain.Job) error {
	return a.DB.QueryRow(
		context.Background(),
		`INSERT INTO slurm_job (id, workflow, input_data, state) VALUES ($1, $2, $3, $4) RETURNING submitted_at`,
		job.ID, job.Workflow, job.InputData, job.State.String(),
	).Scan(&job.SubmittedAt)
}

func (a jobRepository) Update(job *domain.Job) (err error) {
	_, err = a.DB.Exec(
		context.Background(),
		`UPDATE slurm_job SET state = $2, finished_at = $3, progress = $4 WHERE id = $1`,
		job.ID, job.State.String(), job.FinishedAt, job.Progress,
	)
	return
}
