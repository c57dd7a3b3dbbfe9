package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	jobsSubmitted   *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slurmbridge",
			Name:      "commands_total",
			Help:      "Commands run on the Slurm host by outcome.",
		}, []string{"outcome"}),
		commandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slurmbridge",
			Name:      "command_duration_seconds",
			Help:      "Wall time of commands run on the Slurm host.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		jobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slurmbridge",
			Name:      "jobs_submitted_total",
			Help:      "Slurm jobs submitted by workflow.",
		}, []string{"workflow"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slurmbridge",
			Name:      "jobs_finished_total",
			Help:      "Tracked Slurm jobs that reached a terminal state, by state.",
		}, []string{"state"}),
	}
}

// All methods are safe to call on a nil *Metrics.

func (self *Metrics) ObserveCommand(start time.Time, err error) {
	if self == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	self.commands.WithLabelValues(outcome).Inc()
	self.commandDuration.Observe(time.Since(start).Seconds())
}

func (self *Metrics) JobSubmitted(workflow string) {
	if self == nil {
		return
	}
	self.jobsSubmitted.WithLabelValues(workflow).Inc()
}

func (self *Metrics) JobFinished(state string) {
	if self == nil {
		return
	}
	self.jobsFinished.WithLabelValues(state).Inc()
}
