package repository

import (
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

type JobRepository interface {
	GetById(int64) (domain.Job, error)
	GetActive() ([]*domain.Job, error)
	GetAll(*Page) ([]*domain.Job, error)
	Save(*domain.Job) error
	Update(*domain.Job) error
}
