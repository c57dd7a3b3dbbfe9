package slurmbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nl-bioimaging/slurmbridge/src/application"
	"github.com/nl-bioimaging/slurmbridge/src/application/service"
	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

// SlurmOpts locate the cluster, shared by all commands.
type SlurmOpts struct {
	ConfigFile string
}

func (self SlurmOpts) NewSlurmShell(metrics *application.Metrics, logger *zerolog.Logger) (service.SlurmService, application.SlurmShell, error) {
	cfg, err := config.LoadSlurmConfig(self.ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	sshCfg, err := config.ResolveSSHConfig(cfg.Host)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug().Str("host", cfg.Host).Str("addr", sshCfg.Addr()).Str("user", sshCfg.User).Msg("Using Slurm cluster")

	shell := application.NewSSHShell(sshCfg, cfg.InlineSSHEnv, metrics, logger)
	return service.NewSlurmService(cfg, shell, logger), shell, nil
}

// SlurmCmd is a one-shot command against the cluster.
type SlurmCmd interface {
	Run(context.Context, service.SlurmService, io.Writer) error
}

func RunSlurmCmd(cmd SlurmCmd, opts SlurmOpts, logger *zerolog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	slurm, shell, err := opts.NewSlurmShell(nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shell.Close(); err != nil {
			logger.Warn().Err(err).Msg("Could not close SSH connection")
		}
	}()

	return cmd.Run(ctx, slurm, os.Stdout)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, obj any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.WithMessage(enc.Encode(obj), "Could not encode output")
}

func printResult(w io.Writer, result domain.CommandResult) error {
	_, err := io.WriteString(w, result.Stdout)
	return err
}

type ValidateCmd struct{}

func (cmd ValidateCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	if !slurm.Validate(ctx) {
		return errors.Errorf("Could not connect to Slurm host %q", slurm.Config().Host)
	}
	_, err := fmt.Fprintf(w, "Connected to %s\n", slurm.Config().Host)
	return err
}

type SubmitCmd struct {
	Workflow     string            `arg:"positional,required"`
	ImageVersion string            `arg:"--version,required" help:"image version, for example v1.2.7"`
	InputData    string            `arg:"--input,required" help:"input data directory in the Slurm data path"`
	Params       map[string]string `arg:"--param" help:"workflow parameter as NAME=VALUE"`
	Email        *string           `arg:"--email" help:"mail the result to this address"`
	Time         *string           `arg:"--time" help:"time limit, for example 00:45:00"`
}

func (cmd SubmitCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	_, id, err := slurm.RunWorkflow(ctx, domain.WorkflowRequest{
		Workflow:     cmd.Workflow,
		ImageVersion: cmd.ImageVersion,
		InputData:    cmd.InputData,
		Params:       cmd.Params,
		Email:        cmd.Email,
		Time:         cmd.Time,
	})
	if err != nil {
		return err
	}
	return printJSON(w, map[string]int64{"id": id})
}

type CellposeCmd struct {
	ImageVersion  string  `arg:"--version,required"`
	InputData     string  `arg:"--input,required"`
	Model         string  `arg:"--model" default:"nuclei"`
	NucChannel    int     `arg:"--nuc-channel" default:"0"`
	ProbThreshold float64 `arg:"--prob-threshold" default:"0.5"`
	CellDiameter  float64 `arg:"--diameter" default:"0"`
	Email         *string `arg:"--email"`
	Time          *string `arg:"--time"`
}

func (cmd CellposeCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	_, id, err := slurm.RunCellpose(ctx, domain.CellposeRequest{
		ImageVersion:  cmd.ImageVersion,
		InputData:     cmd.InputData,
		Model:         cmd.Model,
		NucChannel:    cmd.NucChannel,
		ProbThreshold: cmd.ProbThreshold,
		CellDiameter:  cmd.CellDiameter,
		Email:         cmd.Email,
		Time:          cmd.Time,
	})
	if err != nil {
		return err
	}
	return printJSON(w, map[string]int64{"id": id})
}

type JobsCmd struct {
	Which string `arg:"positional" default:"active" help:"any of: active, completed, all, queued"`
}

func (cmd JobsCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	var jobs []string
	var err error

	switch cmd.Which {
	case "active":
		jobs, err = slurm.ListActiveJobs(ctx)
	case "completed":
		jobs, err = slurm.ListCompletedJobs(ctx)
	case "all":
		jobs, err = slurm.ListAllJobs(ctx)
	case "queued":
		jobs, err = slurm.ListQueuedJobs(ctx)
	default:
		return errors.Errorf("Unknown job listing %q", cmd.Which)
	}
	if err != nil {
		return err
	}

	return printJSON(w, jobs)
}

type StatusCmd struct {
	Id int64 `arg:"positional,required"`
}

func (cmd StatusCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	status, err := slurm.CheckJobStatus(ctx, cmd.Id)
	if err != nil {
		return err
	}
	return printJSON(w, status)
}

type ProgressCmd struct {
	Id      int64  `arg:"positional,required"`
	Pattern string `arg:"--pattern" help:"regular expression matching progress in the log"`
}

func (cmd ProgressCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	progress, err := slurm.GetActiveJobProgress(ctx, cmd.Id, cmd.Pattern)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, progress)
	return err
}

type TransferCmd struct {
	Path string `arg:"positional,required" help:"local file to copy to the Slurm data path"`
}

func (cmd TransferCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	remote, err := slurm.TransferData(ctx, cmd.Path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, remote)
	return err
}

type UnpackCmd struct {
	Zipfile string `arg:"positional,required" help:"name of the archive in the data path, without .zip"`
	Filter  string `arg:"--filter" help:"files to extract"`
}

func (cmd UnpackCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	result, err := slurm.UnpackData(ctx, cmd.Zipfile, cmd.Filter)
	if err != nil {
		return err
	}
	return printResult(w, result)
}

type ZipCmd struct {
	DataLocation string `arg:"positional,required"`
	Filename     string `arg:"positional,required"`
}

func (cmd ZipCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	result, err := slurm.ZipDataOnSlurmServer(ctx, cmd.DataLocation, cmd.Filename)
	if err != nil {
		return err
	}
	return printResult(w, result)
}

type FetchZipCmd struct {
	Filename string `arg:"positional,required" help:"name of the archive on Slurm, without .zip"`
	LocalDir string `arg:"--dir" default:"."`
}

func (cmd FetchZipCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	local, err := slurm.CopyZipLocally(ctx, cmd.LocalDir, cmd.Filename)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, local)
	return err
}

type FetchLogCmd struct {
	Id       int64  `arg:"positional,required"`
	LocalDir string `arg:"--dir" default:"."`
}

func (cmd FetchLogCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	_, local, err := slurm.GetLogfile(ctx, cmd.Id, cmd.LocalDir)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, local)
	return err
}

type UpdateScriptsCmd struct{}

func (cmd UpdateScriptsCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	result, err := slurm.UpdateSlurmScripts(ctx)
	if err != nil {
		return err
	}
	return printResult(w, result)
}

type VersionsCmd struct {
	Workflow string `arg:"positional" help:"only this workflow, all if empty"`
}

func (cmd VersionsCmd) Run(ctx context.Context, slurm service.SlurmService, w io.Writer) error {
	if cmd.Workflow == "" {
		versions, err := slurm.GetAllImageVersionsAndDataFiles(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, versions)
	}

	versions, data, err := slurm.GetImageVersionsAndDataFiles(ctx, cmd.Workflow)
	if err != nil {
		return err
	}
	return printJSON(w, map[string][]string{
		"versions": versions,
		"data":     data,
	})
}

type WorkflowsCmd struct{}

func (cmd WorkflowsCmd) Run(_ context.Context, slurm service.SlurmService, w io.Writer) error {
	return printJSON(w, slurm.Workflows())
}
