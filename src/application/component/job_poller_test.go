package component

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/nl-bioimaging/slurmbridge/src/application/service/mocks"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

func TestPollRefreshesEveryActiveJob(t *testing.T) {
	t.Parallel()

	// given
	jobService := mocks.NewJobService(t)
	first := &domain.Job{ID: 1}
	second := &domain.Job{ID: 2}
	jobService.On("GetActive").Return([]*domain.Job{first, second}, nil)
	jobService.On("Refresh", mock.Anything, first).Return(errors.New("sacct: error"))
	jobService.On("Refresh", mock.Anything, second).Return(nil)
	poller := &JobPoller{Logger: zerolog.Nop(), JobService: jobService}

	// when
	err := poller.Poll(context.Background())

	// then
	assert.NoError(t, err)
}

func TestPollFailsWithoutDatabase(t *testing.T) {
	t.Parallel()

	// given
	jobService := mocks.NewJobService(t)
	jobService.On("GetActive").Return(nil, errors.New("connection refused"))
	poller := &JobPoller{Logger: zerolog.Nop(), JobService: jobService}

	// when
	err := poller.Poll(context.Background())

	// then
	assert.Error(t, err)
}

func TestStartStopsWithContext(t *testing.T) {
	t.Parallel()

	// given
	jobService := mocks.NewJobService(t)
	jobService.On("GetActive").Return([]*domain.Job{}, nil)
	poller := &JobPoller{Logger: zerolog.Nop(), JobService: jobService, Interval: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// when
	err := poller.Start(ctx)

	// then
	assert.NoError(t, err)
	jobService.AssertCalled(t, "GetActive")
}
