package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const OutputSeparator = "--split--"

type CommandResult struct {
	Command    string `json:"command"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
}

type JobsQuery struct {
	StartTime string
	EndTime   string
	Columns   string
	States    string
}

func (self JobsQuery) withDefaults() JobsQuery {
	if self.StartTime == "" {
		self.StartTime = DefaultJobsStartTime
	}
	if self.EndTime == "" {
		self.EndTime = DefaultJobsEndTime
	}
	if self.Columns == "" {
		self.Columns = DefaultJobsColumns
	}
	if self.States == "" {
		self.States = DefaultJobsStates
	}
	return self
}

// Command returns the sacct invocation listing old jobs without header or trailer.
func (self JobsQuery) Command() string {
	q := self.withDefaults()
	return fmt.Sprintf("sacct --starttime %s --endtime %s --state %s -o %s -n -X ",
		q.StartTime, q.EndTime, q.States, q.Columns)
}

const QueuedJobsCommand = "squeue -u $USER --nohead --format %F"

const ValidateCommand = `echo " "`

func JobStatusCommand(slurmJobID int64) string {
	return fmt.Sprintf("sacct -n -o JobId,State,End -X -j %d", slurmJobID)
}

func Logfile(slurmJobID int64) string {
	return fmt.Sprintf(DefaultLogfilePattern, fmt.Sprint(slurmJobID))
}

func TailLogCommand(logFile string, n int) string {
	if n <= 0 {
		n = DefaultTailLines
	}
	return fmt.Sprintf("tail -n %d %s | strings", n, logFile)
}

func ZipCommand(dataLocation, filename string) string {
	return fmt.Sprintf("7z a -y %s -tzip %s", shellescape.Quote(filename), shellescape.Quote(dataLocation+"/data/out"))
}

func (self SlurmConfig) VersionsCommand(modelPath string) string {
	return fmt.Sprintf("ls -h %s/%s | grep -oP '(?<=-)v.+(?=.simg)'", self.ImagesPath, modelPath)
}

func (self SlurmConfig) DataFilesCommand() string {
	return fmt.Sprintf("ls -h %s | grep -oP '.+(?=.zip)'", self.DataPath)
}

func (self SlurmConfig) UpdateScriptsCommand() string {
	return fmt.Sprintf("git -C %s pull", self.ScriptPath)
}

// UnzipCommand creates the directory layout a job expects and extracts the
// archive into its input directory. An empty filter or "*" extracts everything.
// The filter is passed on as shell words so that it can hold several globs.
func (self SlurmConfig) UnzipCommand(zipfile, filter string) string {
	if filter == "" {
		filter = "*"
	}
	dir := self.DataPath + "/" + zipfile
	q := shellescape.Quote
	return fmt.Sprintf("mkdir %s %s %s %s %s; 7z e -y %s %s %s",
		q(dir), q(dir+"/data"), q(dir+"/data/in"), q(dir+"/data/out"), q(dir+"/data/gt"),
		q("-o"+dir+"/data/in"), q(dir+".zip"), filter)
}

var paramKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidParamKey reports whether key can be exported as an environment variable.
func ValidParamKey(key string) bool {
	return paramKeyPattern.MatchString(key)
}

// SubmitCommand returns the sbatch invocation and its environment for a workflow.
func (self SlurmConfig) SubmitCommand(req WorkflowRequest) (string, map[string]string, error) {
	workflow, err := self.Workflow(req.Workflow)
	if err != nil {
		return "", nil, err
	}
	if workflow.JobScript == "" {
		return "", nil, fmt.Errorf("No job script configured for workflow %q", req.Workflow)
	}

	env := self.imageEnv(req.InputData, workflow.ModelPath, req.ImageVersion)
	for _, k := range SortedKeys(req.Params) {
		if !ValidParamKey(k) {
			return "", nil, InvalidParamError{Key: k}
		}
		env[strings.ToUpper(k)] = req.Params[k]
	}

	return sbatch(req.Time, req.Email, self.ScriptPath+"/"+workflow.JobScript), env, nil
}

func (self SlurmConfig) CellposeCommand(req CellposeRequest) (string, map[string]string) {
	env := self.imageEnv(req.InputData, CellposeModel, req.ImageVersion)
	env["DIAMETER"] = fmt.Sprint(req.CellDiameter)
	env["PROB_THRESHOLD"] = fmt.Sprint(req.ProbThreshold)
	env["NUC_CHANNEL"] = fmt.Sprint(req.NucChannel)
	env["CP_MODEL"] = req.Model
	env["USE_GPU"] = "true"

	return sbatch(req.Time, req.Email, self.ScriptPath+"/jobs/"+CellposeJobScript), env
}

func (self SlurmConfig) imageEnv(inputData, modelPath, imageVersion string) map[string]string {
	return map[string]string{
		"DATA_PATH":     self.DataPath + "/" + inputData,
		"IMAGE_PATH":    self.ImagesPath + "/" + modelPath,
		"IMAGE_VERSION": imageVersion,
	}
}

func sbatch(time, email *string, script string) string {
	var b strings.Builder
	b.WriteString("sbatch")
	if time != nil {
		b.WriteString(" --time=" + shellescape.Quote(*time))
	}
	if email != nil {
		b.WriteString(" --mail-user=" + shellescape.Quote(*email))
	}
	b.WriteString(" " + submitOutputPattern + " " + shellescape.Quote(script))
	return b.String()
}

// SortedKeys is used to render environments deterministically.
func SortedKeys(env map[string]string) []string {
	keys := maps.Keys(env)
	slices.Sort(keys)
	return keys
}
