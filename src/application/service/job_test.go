package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nl-bioimaging/slurmbridge/src/application"
	"github.com/nl-bioimaging/slurmbridge/src/application/mocks"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

func buildJobService(t *testing.T) (JobService, *mocks.SlurmShell, pgxmock.PgxPoolIface) {
	db, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(db.Close)

	logger := zerolog.New(io.Discard)
	slurm, shell := buildSlurmService(t)
	return NewJobService(db, slurm, application.NewMetrics(), &logger), shell, db
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	// given
	jobs, shell, db := buildJobService(t)
	shell.On("Run", mock.Anything, "sbatch --output=omero-%4j.log slurm-scripts/jobs/cellpose.sh", mock.Anything).
		Return(ok("Submitted batch job 1234\n"), nil)
	db.ExpectQuery("INSERT INTO slurm_job").
		WithArgs(int64(1234), "cellpose", "in1", "PENDING").
		WillReturnRows(db.NewRows([]string{"submitted_at"}).AddRow(now))

	// when
	job, err := jobs.Submit(context.Background(), domain.WorkflowRequest{
		Workflow:     "cellpose",
		ImageVersion: "v1.2.7",
		InputData:    "in1",
	})

	// then
	assert.NoError(t, err)
	assert.Equal(t, int64(1234), job.ID)
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.Equal(t, now, job.SubmittedAt)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestSubmitNotTracked(t *testing.T) {
	t.Parallel()

	// given
	db, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	slurm, shell := buildSlurmService(t)
	jobs := NewJobService(db, slurm, nil, &logger)
	shell.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(ok("Submitted batch job 1234\n"), nil)
	db.ExpectQuery("INSERT INTO slurm_job").
		WithArgs(int64(1234), "cellpose", "in1", "PENDING").
		WillReturnError(errors.New("connection refused"))

	// when
	_, err = jobs.Submit(context.Background(), domain.WorkflowRequest{Workflow: "cellpose", InputData: "in1"})

	// then
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1234")
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), `"slurm-job-id":1234`)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestSubmitWithoutJobId(t *testing.T) {
	t.Parallel()

	// given
	jobs, shell, db := buildJobService(t)
	shell.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(ok("sbatch: queued\n"), nil)

	// when
	_, err := jobs.Submit(context.Background(), domain.WorkflowRequest{Workflow: "cellpose"})

	// then
	assert.Error(t, err)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestRefreshRunning(t *testing.T) {
	t.Parallel()

	// given
	jobs, shell, db := buildJobService(t)
	shell.On("Run", mock.Anything, "sacct -n -o JobId,State,End -X -j 1234", mock.Anything).
		Return(ok("1234 RUNNING Unknown\n"), nil)
	shell.On("Run", mock.Anything, "tail -n 10 omero-1234.log | strings", mock.Anything).
		Return(ok("42%|####\n"), nil)
	progress := "Progress: 42%\n"
	db.ExpectExec("UPDATE slurm_job").
		WithArgs(int64(1234), "RUNNING", (*time.Time)(nil), &progress).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	job := domain.Job{ID: 1234, State: domain.JobStatePending}

	// when
	err := jobs.Refresh(context.Background(), &job)

	// then
	assert.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, job.State)
	assert.Nil(t, job.FinishedAt)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestRefreshCompleted(t *testing.T) {
	t.Parallel()

	// given
	jobs, shell, db := buildJobService(t)
	shell.On("Run", mock.Anything, "sacct -n -o JobId,State,End -X -j 1234", mock.Anything).
		Return(ok("1234 COMPLETED 2023-05-01T12:30:00\n"), nil)
	end := time.Date(2023, 5, 1, 12, 30, 0, 0, time.Local).UTC()
	db.ExpectExec("UPDATE slurm_job").
		WithArgs(int64(1234), "COMPLETED", &end, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	job := domain.Job{ID: 1234, State: domain.JobStateRunning}

	// when
	err := jobs.Refresh(context.Background(), &job)

	// then
	assert.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	require.NotNil(t, job.FinishedAt)
	assert.Equal(t, end, *job.FinishedAt)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestRefreshSpecialExit(t *testing.T) {
	t.Parallel()

	// given
	jobs, shell, db := buildJobService(t)
	shell.On("Run", mock.Anything, "sacct -n -o JobId,State,End -X -j 1234", mock.Anything).
		Return(ok("1234 SPECIAL_EXIT 2023-05-01T12:30:00\n"), nil)
	db.ExpectExec("UPDATE slurm_job").
		WithArgs(int64(1234), "SPECIAL_EXIT", pgxmock.AnyArg(), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	job := domain.Job{ID: 1234, State: domain.JobStateRunning}

	// when
	err := jobs.Refresh(context.Background(), &job)

	// then
	assert.NoError(t, err)
	assert.NotNil(t, job.FinishedAt)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestRefreshWithoutSacctRecord(t *testing.T) {
	t.Parallel()

	// given
	jobs, shell, db := buildJobService(t)
	shell.On("Run", mock.Anything, "sacct -n -o JobId,State,End -X -j 1234", mock.Anything).Return(ok(""), nil)
	shell.On("Run", mock.Anything, "sacct -n -o JobId,State,End -X -j 1235", mock.Anything).Return(ok("\n"), nil)
	db.ExpectExec("UPDATE slurm_job").
		WithArgs(int64(1234), "UNKNOWN", pgxmock.AnyArg(), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	stale := domain.Job{ID: 1234, State: domain.JobStatePending, SubmittedAt: time.Now().Add(-2 * time.Hour)}
	fresh := domain.Job{ID: 1235, State: domain.JobStatePending, SubmittedAt: time.Now()}

	// when
	staleErr := jobs.Refresh(context.Background(), &stale)
	freshErr := jobs.Refresh(context.Background(), &fresh)

	// then
	assert.NoError(t, staleErr)
	assert.Equal(t, domain.JobStateUnknown, stale.State)
	assert.NotNil(t, stale.FinishedAt)
	assert.ErrorIs(t, freshErr, domain.ErrNoJobStatus)
	assert.Nil(t, fresh.FinishedAt)
	assert.NoError(t, db.ExpectationsWereMet())
}
