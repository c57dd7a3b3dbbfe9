package slurmbridge

import (
	"context"
	"time"

	"cirello.io/oversight"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nl-bioimaging/slurmbridge/src/application"
	"github.com/nl-bioimaging/slurmbridge/src/application/component"
	"github.com/nl-bioimaging/slurmbridge/src/application/component/web"
	"github.com/nl-bioimaging/slurmbridge/src/application/service"
	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/infrastructure/persistence"
)

type StartCmd struct {
	Components []string `arg:"positional,env:SLURMBRIDGE_COMPONENTS" help:"any of: poller, web"`

	WebListen    string `arg:"--web-listen,env:SLURMBRIDGE_WEB_LISTEN" default:":8080"`
	WebTokenFile string `arg:"--web-token-file" help:"file that contains the bearer token required by the API"`

	PollInterval    time.Duration `arg:"--poll-interval" default:"30s"`
	PollConcurrency int           `arg:"--poll-concurrency" default:"4"`

	LogDb bool `arg:"--log-db"`
}

type InstanceOpts interface {
	NewDB(context.Context, *zerolog.Logger) (*pgxpool.Pool, error)
	NewSlurmShell(*application.Metrics, *zerolog.Logger) (service.SlurmService, application.SlurmShell, error)
	GetComponentOpts() InstanceComponentsOpts
}

type InstanceComponentsOpts struct {
	Poller *InstancePollerComponentOpts
	Web    *InstanceWebComponentOpts
}

type InstancePollerComponentOpts struct {
	Interval    time.Duration
	Concurrency int
}

type InstanceWebComponentOpts struct {
	ListenAddr string
	TokenFile  string
}

type startOpts struct {
	StartCmd
	SlurmOpts
}

func (cmd startOpts) NewDB(ctx context.Context, logger *zerolog.Logger) (*pgxpool.Pool, error) {
	return config.DBConnection(ctx, logger, cmd.LogDb)
}

func (cmd StartCmd) GetComponentOpts() InstanceComponentsOpts {
	start := InstanceComponentsOpts{}

	pollerOpts := InstancePollerComponentOpts{
		Interval:    cmd.PollInterval,
		Concurrency: cmd.PollConcurrency,
	}
	webOpts := InstanceWebComponentOpts{
		ListenAddr: cmd.WebListen,
		TokenFile:  cmd.WebTokenFile,
	}

	// If none are given then start all,
	// otherwise start only those that are given.
	for _, component := range cmd.Components {
		switch component {
		case "poller":
			start.Poller = &pollerOpts
		case "web":
			start.Web = &webOpts
		default:
			panic("Unknown component: " + component)
		}
	}
	if start.Poller == nil && start.Web == nil {
		start.Poller = &pollerOpts
		start.Web = &webOpts
	}

	return start
}

func (cmd StartCmd) Run(slurm SlurmOpts, logger *zerolog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	instance, err := NewInstance(ctx, startOpts{cmd, slurm}, logger)
	if err != nil {
		return err
	}
	defer instance.Close()

	return instance.Run(ctx)
}

// NewInstance connects to the database and to Slurm. Whatever was opened is
// closed again when it fails.
func NewInstance(ctx context.Context, opts InstanceOpts, logger *zerolog.Logger) (instance Instance, err error) {
	instance = Instance{logger: logger, metrics: application.NewMetrics()}
	defer func() {
		if err != nil {
			instance.Close()
		}
	}()

	if db, err := opts.NewDB(ctx, logger); err != nil {
		return instance, err
	} else {
		instance.db = db
	}

	if err := persistence.Migrate(ctx, instance.db); err != nil {
		return instance, err
	}

	slurmService, shell, err := opts.NewSlurmShell(instance.metrics, logger)
	if err != nil {
		return instance, err
	}
	instance.shell = shell

	jobService := service.NewJobService(instance.db, slurmService, instance.metrics, logger)

	start := opts.GetComponentOpts()

	if start.Poller != nil {
		instance.Poller = &component.JobPoller{
			Logger:      logger.With().Str("component", "JobPoller").Logger(),
			JobService:  jobService,
			Interval:    start.Poller.Interval,
			Concurrency: start.Poller.Concurrency,
		}
	}

	if start.Web != nil {
		cfg, err := config.NewWebConfig(start.Web.ListenAddr, start.Web.TokenFile)
		if err != nil {
			return instance, err
		}
		instance.Web = &web.Web{
			Config:       cfg,
			Logger:       logger.With().Str("component", "Web").Logger(),
			SlurmService: slurmService,
			JobService:   jobService,
			Metrics:      instance.metrics,
		}
	}

	return instance, nil
}

type Instance struct {
	Poller *component.JobPoller
	Web    *web.Web

	logger  *zerolog.Logger
	metrics *application.Metrics
	db      *pgxpool.Pool
	shell   application.SlurmShell
}

func (self Instance) Close() {
	if self.shell != nil {
		if err := self.shell.Close(); err != nil {
			self.logger.Warn().Err(err).Msg("Could not close SSH connection")
		}
	}
	if self.db != nil {
		self.db.Close()
	}
}

func (self Instance) Run(ctx context.Context) error {
	self.logger.Info().Msg("Starting components")

	supervisor := oversight.New(
		oversight.WithLogger(&config.SupervisorLogger{Logger: self.logger}),
		oversight.WithSpecification(
			10,                    // number of restarts
			1*time.Minute,         // within this time period
			oversight.OneForOne(), // restart every task on its own
		),
	)

	if self.Poller != nil {
		if err := supervisor.Add(self.Poller.Start); err != nil {
			return err
		}
	}

	if self.Web != nil {
		if err := supervisor.Add(self.Web.Start); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := supervisor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "While starting supervisor")
	}

	<-ctx.Done()
	return nil
}
