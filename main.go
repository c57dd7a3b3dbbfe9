package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"

	slurmbridge "github.com/nl-bioimaging/slurmbridge/src"
	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

var buildVersion = "dev"
var buildCommit = "dirty"

func main() {
	args := &CLI{}
	parser, err := parseArgs(args)
	abort(parser, err)

	debug := flag.Bool("debug", args.Debug, "sets log level to debug")
	logger := config.ConfigureLogger(*debug)

	domain.BuildInfo.Version = buildVersion
	domain.BuildInfo.Commit = buildCommit

	abort(parser, Run(parser, args, logger))
}

type CLI struct {
	Debug  bool   `arg:"--debug" help:"debugging output"`
	Config string `arg:"--config,env:SLURMBRIDGE_CONFIG" help:"slurm-config.ini read after the default locations"`

	Start *slurmbridge.StartCmd `arg:"subcommand:start" help:"run the job poller and web API"`

	Validate      *slurmbridge.ValidateCmd      `arg:"subcommand:validate" help:"check the SSH connection to Slurm"`
	Workflows     *slurmbridge.WorkflowsCmd     `arg:"subcommand:workflows" help:"list the configured workflows"`
	Versions      *slurmbridge.VersionsCmd      `arg:"subcommand:versions" help:"list image versions and data files"`
	Submit        *slurmbridge.SubmitCmd        `arg:"subcommand:submit" help:"submit a workflow job"`
	Cellpose      *slurmbridge.CellposeCmd      `arg:"subcommand:cellpose" help:"submit a cellpose job"`
	Jobs          *slurmbridge.JobsCmd          `arg:"subcommand:jobs" help:"list job IDs"`
	Status        *slurmbridge.StatusCmd        `arg:"subcommand:status" help:"show the state of a job"`
	Progress      *slurmbridge.ProgressCmd      `arg:"subcommand:progress" help:"show the progress of a running job"`
	Transfer      *slurmbridge.TransferCmd      `arg:"subcommand:transfer" help:"copy a local file to the Slurm data path"`
	Unpack        *slurmbridge.UnpackCmd        `arg:"subcommand:unpack" help:"unpack an archive in the Slurm data path"`
	Zip           *slurmbridge.ZipCmd           `arg:"subcommand:zip" help:"zip job results on Slurm"`
	FetchZip      *slurmbridge.FetchZipCmd      `arg:"subcommand:fetch-zip" help:"copy a zipped result from Slurm"`
	FetchLog      *slurmbridge.FetchLogCmd      `arg:"subcommand:fetch-log" help:"copy the log of a job from Slurm"`
	UpdateScripts *slurmbridge.UpdateScriptsCmd `arg:"subcommand:update-scripts" help:"pull the latest job scripts on Slurm"`
}

func Version() string {
	return fmt.Sprintf("%s (%s)", buildVersion, buildCommit)
}

func (CLI) Version() string {
	return fmt.Sprintf("slurmbridge %s", Version())
}

func abort(parser *arg.Parser, err error) {
	switch err {
	case nil:
		return
	case arg.ErrHelp:
		parser.WriteHelp(os.Stderr)
		os.Exit(0)
	case arg.ErrVersion:
		fmt.Fprintln(os.Stdout, Version())
		os.Exit(0)
	default:
		fmt.Fprint(os.Stderr, err, "\n")
		os.Exit(1)
	}
}

func parseArgs(args *CLI) (parser *arg.Parser, err error) {
	parser, err = arg.NewParser(arg.Config{}, args)
	if err != nil {
		return
	}

	err = parser.Parse(os.Args[1:])
	return
}

func Run(parser *arg.Parser, args *CLI, logger *zerolog.Logger) error {
	opts := slurmbridge.SlurmOpts{ConfigFile: args.Config}

	if args.Start != nil {
		return args.Start.Run(opts, logger)
	}

	if cmd := slurmCmd(args); cmd != nil {
		return slurmbridge.RunSlurmCmd(cmd, opts, logger)
	}

	parser.WriteHelp(os.Stderr)
	return nil
}

func slurmCmd(args *CLI) slurmbridge.SlurmCmd {
	switch {
	case args.Validate != nil:
		return args.Validate
	case args.Workflows != nil:
		return args.Workflows
	case args.Versions != nil:
		return args.Versions
	case args.Submit != nil:
		return args.Submit
	case args.Cellpose != nil:
		return args.Cellpose
	case args.Jobs != nil:
		return args.Jobs
	case args.Status != nil:
		return args.Status
	case args.Progress != nil:
		return args.Progress
	case args.Transfer != nil:
		return args.Transfer
	case args.Unpack != nil:
		return args.Unpack
	case args.Zip != nil:
		return args.Zip
	case args.FetchZip != nil:
		return args.FetchZip
	case args.FetchLog != nil:
		return args.FetchLog
	case args.UpdateScripts != nil:
		return args.UpdateScripts
	}
	return nil
}
