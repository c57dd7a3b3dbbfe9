package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nl-bioimaging/slurmbridge/src/application"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

const DefaultCommandSeparator = " && "

type SlurmService interface {
	Config() domain.SlurmConfig

	Validate(context.Context) bool
	RunCommands(ctx context.Context, cmds []string, env map[string]string, sep string) (domain.CommandResult, error)
	RunCommandsSplitOut(ctx context.Context, cmds []string, env map[string]string) ([]string, error)

	ListActiveJobs(context.Context) ([]string, error)
	ListCompletedJobs(context.Context) ([]string, error)
	ListAllJobs(context.Context) ([]string, error)
	ListJobs(context.Context, domain.JobsQuery) ([]string, error)
	ListQueuedJobs(context.Context) ([]string, error)
	CheckJobStatus(ctx context.Context, slurmJobId int64) (domain.JobStatus, error)
	GetActiveJobProgress(ctx context.Context, slurmJobId int64, pattern string) (string, error)

	TransferData(ctx context.Context, localPath string) (string, error)
	UnpackData(ctx context.Context, zipfile, filter string) (domain.CommandResult, error)
	ZipDataOnSlurmServer(ctx context.Context, dataLocation, filename string) (domain.CommandResult, error)
	CopyZipLocally(ctx context.Context, localDir, filename string) (string, error)
	GetLogfile(ctx context.Context, slurmJobId int64, localDir string) (dir string, file string, err error)
	UpdateSlurmScripts(context.Context) (domain.CommandResult, error)

	RunWorkflow(context.Context, domain.WorkflowRequest) (domain.CommandResult, int64, error)
	RunCellpose(context.Context, domain.CellposeRequest) (domain.CommandResult, int64, error)

	Workflows() []domain.Workflow
	GetImageVersionsAndDataFiles(ctx context.Context, workflow string) (versions []string, data []string, err error)
	GetAllImageVersionsAndDataFiles(context.Context) (map[string][]string, error)
}

type slurmService struct {
	logger zerolog.Logger
	config domain.SlurmConfig
	shell  application.SlurmShell
}

func NewSlurmService(cfg domain.SlurmConfig, shell application.SlurmShell, logger *zerolog.Logger) SlurmService {
	return &slurmService{
		logger: logger.With().Str("component", "SlurmService").Logger(),
		config: cfg,
		shell:  shell,
	}
}

func (self slurmService) Config() domain.SlurmConfig {
	return self.config
}

func (self slurmService) Validate(ctx context.Context) bool {
	_, err := self.shell.Run(ctx, domain.ValidateCommand, nil)
	if err != nil {
		self.logger.Debug().Err(err).Msg("Connection is not valid")
	}
	return err == nil
}

// RunCommands runs the commands in one session, joined by sep.
// The default separator stops at the first failing command.
func (self slurmService) RunCommands(ctx context.Context, cmds []string, env map[string]string, sep string) (domain.CommandResult, error) {
	if sep == "" {
		sep = DefaultCommandSeparator
	}
	cmd := strings.Join(cmds, sep)

	self.logger.Debug().Str("command", cmd).Strs("env", domain.SortedKeys(env)).Msg("Running commands")
	result, err := self.shell.Run(ctx, cmd, env)
	return result, errors.WithMessage(err, "Could not run commands on Slurm")
}

// RunCommandsSplitOut returns the output of each command separately.
func (self slurmService) RunCommandsSplitOut(ctx context.Context, cmds []string, env map[string]string) ([]string, error) {
	result, err := self.RunCommands(ctx, cmds, env, fmt.Sprintf(" ; echo %s ; ", domain.OutputSeparator))
	if err != nil {
		return nil, err
	}
	return strings.Split(result.Stdout, domain.OutputSeparator), nil
}

func (self slurmService) ListActiveJobs(ctx context.Context) ([]string, error) {
	self.logger.Debug().Msg("Retrieving list of active jobs from Slurm")
	return self.ListJobs(ctx, domain.JobsQuery{StartTime: "now", States: "r"})
}

func (self slurmService) ListCompletedJobs(ctx context.Context) ([]string, error) {
	self.logger.Debug().Msg("Retrieving list of completed jobs from Slurm")
	return self.ListJobs(ctx, domain.JobsQuery{States: "cd"})
}

func (self slurmService) ListAllJobs(ctx context.Context) ([]string, error) {
	self.logger.Debug().Msg("Retrieving list of jobs from Slurm")
	return self.ListJobs(ctx, domain.JobsQuery{})
}

// ListJobs returns the job IDs matched by the query, newest first.
func (self slurmService) ListJobs(ctx context.Context, query domain.JobsQuery) ([]string, error) {
	result, err := self.RunCommands(ctx, []string{query.Command()}, nil, "")
	if err != nil {
		return nil, errors.WithMessage(err, "Could not list jobs")
	}

	jobs := lines(result.Stdout)
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

func (self slurmService) ListQueuedJobs(ctx context.Context) ([]string, error) {
	result, err := self.RunCommands(ctx, []string{domain.QueuedJobsCommand}, nil, "")
	if err != nil {
		return nil, errors.WithMessage(err, "Could not list queued jobs")
	}
	return lines(result.Stdout), nil
}

func (self slurmService) CheckJobStatus(ctx context.Context, slurmJobId int64) (status domain.JobStatus, err error) {
	self.logger.Debug().Int64("slurm-job-id", slurmJobId).Msg("Getting job status")

	result, err := self.RunCommands(ctx, []string{domain.JobStatusCommand(slurmJobId)}, nil, "")
	if err != nil {
		err = errors.WithMessagef(err, "Could not get status of job %d", slurmJobId)
		return
	}

	status, err = domain.ParseJobStatus(result.Stdout)
	err = errors.WithMessagef(err, "Could not parse status of job %d", slurmJobId)
	return
}

// GetActiveJobProgress returns the last match of pattern in the tail of the job's log.
func (self slurmService) GetActiveJobProgress(ctx context.Context, slurmJobId int64, pattern string) (string, error) {
	if pattern == "" {
		pattern = domain.DefaultProgressPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", domain.InvalidPatternError{Pattern: pattern, Err: err}
	}

	result, err := self.RunCommands(ctx, []string{
		domain.TailLogCommand(domain.Logfile(slurmJobId), domain.DefaultTailLines),
	}, nil, "")
	if err != nil {
		return "", errors.WithMessagef(err, "Could not read log of job %d", slurmJobId)
	}

	matches := re.FindAllString(result.Stdout, -1)
	if len(matches) == 0 {
		return "", errors.WithMessagef(domain.ErrNoProgress, "Job %d", slurmJobId)
	}

	return fmt.Sprintf("Progress: %s\n", matches[len(matches)-1]), nil
}

func (self slurmService) TransferData(ctx context.Context, localPath string) (string, error) {
	self.logger.Info().Str("local", localPath).Str("remote", self.config.DataPath).Msg("Transferring data")
	remote, err := self.shell.Put(ctx, localPath, self.config.DataPath)
	return remote, errors.WithMessagef(err, "Could not transfer %q to Slurm", localPath)
}

// UnpackData extracts the archive zipfile.zip in the data path. The filter
// selects which files to extract, defaulting to TIFF images.
func (self slurmService) UnpackData(ctx context.Context, zipfile, filter string) (domain.CommandResult, error) {
	if filter == "" {
		filter = domain.DefaultUnzipFilter
	}
	self.logger.Info().Str("zipfile", zipfile).Msg("Unpacking data on Slurm")
	return self.RunCommands(ctx, []string{self.config.UnzipCommand(zipfile, filter)}, nil, "")
}

func (self slurmService) ZipDataOnSlurmServer(ctx context.Context, dataLocation, filename string) (domain.CommandResult, error) {
	self.logger.Info().Str("location", dataLocation).Str("filename", filename).Msg("Zipping results on Slurm")
	return self.RunCommands(ctx, []string{domain.ZipCommand(dataLocation, filename)}, nil, "")
}

func (self slurmService) CopyZipLocally(ctx context.Context, localDir, filename string) (string, error) {
	self.logger.Info().Str("filename", filename).Str("local", localDir).Msg("Copying zip from Slurm")
	local, err := self.shell.Get(ctx, filename+".zip", localDir)
	return local, errors.WithMessagef(err, "Could not copy %q from Slurm", filename+".zip")
}

func (self slurmService) GetLogfile(ctx context.Context, slurmJobId int64, localDir string) (string, string, error) {
	logfile := domain.Logfile(slurmJobId)
	self.logger.Info().Str("logfile", logfile).Str("local", localDir).Msg("Copying logfile from Slurm")
	local, err := self.shell.Get(ctx, logfile, localDir)
	return localDir, local, errors.WithMessagef(err, "Could not copy logfile of job %d", slurmJobId)
}

func (self slurmService) UpdateSlurmScripts(ctx context.Context) (domain.CommandResult, error) {
	self.logger.Info().Str("path", self.config.ScriptPath).Msg("Updating Slurm job scripts")
	return self.RunCommands(ctx, []string{self.config.UpdateScriptsCommand()}, nil, "")
}

func (self slurmService) RunWorkflow(ctx context.Context, req domain.WorkflowRequest) (domain.CommandResult, int64, error) {
	cmd, env, err := self.config.SubmitCommand(req)
	if err != nil {
		return domain.CommandResult{}, -1, err
	}
	self.logger.Info().Str("workflow", req.Workflow).Str("input", req.InputData).Msg("Submitting workflow")
	return self.submit(ctx, cmd, env)
}

func (self slurmService) RunCellpose(ctx context.Context, req domain.CellposeRequest) (domain.CommandResult, int64, error) {
	cmd, env := self.config.CellposeCommand(req)
	self.logger.Info().Str("workflow", domain.CellposeModel).Str("input", req.InputData).Msg("Submitting workflow")
	return self.submit(ctx, cmd, env)
}

func (self slurmService) submit(ctx context.Context, cmd string, env map[string]string) (domain.CommandResult, int64, error) {
	result, err := self.RunCommands(ctx, []string{cmd}, env, "")
	if err != nil {
		return result, -1, errors.WithMessage(err, "Could not submit job")
	}

	id := domain.ExtractJobID(result.Stdout)
	self.logger.Info().Int64("slurm-job-id", id).Msg("Submitted job")
	return result, id, nil
}

func (self slurmService) Workflows() []domain.Workflow {
	names := self.config.Workflows()
	workflows := make([]domain.Workflow, 0, len(names))
	for _, name := range names {
		if w, err := self.config.Workflow(name); err == nil {
			workflows = append(workflows, w)
		}
	}
	return workflows
}

func (self slurmService) GetImageVersionsAndDataFiles(ctx context.Context, workflow string) ([]string, []string, error) {
	w, err := self.config.Workflow(workflow)
	if err != nil {
		return nil, nil, err
	}

	responses, err := self.RunCommandsSplitOut(ctx, []string{
		self.config.VersionsCommand(w.ModelPath),
		self.config.DataFilesCommand(),
	}, nil)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "Could not list image versions and data files of %q", workflow)
	}
	if len(responses) != 2 {
		return nil, nil, errors.Errorf("Expected 2 outputs but got %d", len(responses))
	}

	return lines(responses[0]), lines(responses[1]), nil
}

// GetAllImageVersionsAndDataFiles maps each workflow to its image versions,
// highest first, and DataFilesKey to the available input archives.
func (self slurmService) GetAllImageVersionsAndDataFiles(ctx context.Context) (map[string][]string, error) {
	names := self.config.Workflows()

	cmds := make([]string, 0, len(names)+1)
	for _, name := range names {
		cmds = append(cmds, self.config.VersionsCommand(self.config.ModelPaths[name]))
	}
	cmds = append(cmds, self.config.DataFilesCommand())

	responses, err := self.RunCommandsSplitOut(ctx, cmds, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "Could not list image versions and data files")
	}
	if len(responses) != len(cmds) {
		return nil, errors.Errorf("Expected %d outputs but got %d", len(cmds), len(responses))
	}

	result := make(map[string][]string, len(cmds))
	for i, name := range names {
		versions := lines(responses[i])
		sort.Sort(sort.Reverse(sort.StringSlice(versions)))
		result[name] = versions
	}
	result[domain.DataFilesKey] = lines(responses[len(responses)-1])

	return result, nil
}

func lines(output string) []string {
	output = strings.TrimSpace(output)
	if output == "" {
		return []string{}
	}

	result := strings.Split(output, "\n")
	for i, line := range result {
		result[i] = strings.TrimSpace(line)
	}
	return result
}
