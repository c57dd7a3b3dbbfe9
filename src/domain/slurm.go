package domain

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	DefaultHost              = "slurm"
	DefaultInlineSSHEnv      = true
	DefaultSlurmDataPath     = "my-scratch/data"
	DefaultSlurmImagesPath   = "my-scratch/singularity_images/workflows"
	DefaultSlurmScriptPath   = "slurm-scripts"
	DefaultLogfilePattern    = "omero-%s.log"
	DefaultProgressPattern   = `\d+%`
	DefaultJobsStartTime     = "2023-01-01"
	DefaultJobsEndTime       = "now"
	DefaultJobsColumns       = "JobId"
	DefaultJobsStates        = "r,cd,f,to,rs,dl,nf"
	DefaultUnzipFilter       = "*.tiff *.tif"
	DefaultTailLines         = 10
	CellposeModel            = "cellpose"
	CellposeJobScript        = "cellpose.sh"
	DataFilesKey             = "data"
	submitOutputPattern      = "--output=omero-%4j.log"
	submittedBatchJobMessage = "Submitted batch job"
)

// SlurmConfig holds the Slurm specific settings of a cluster.
// SSH settings live in the user's ssh config, not here.
type SlurmConfig struct {
	Host         string `json:"host"`
	InlineSSHEnv bool   `json:"inline_ssh_env"`

	DataPath   string `json:"data_path"`
	ImagesPath string `json:"images_path"`
	ScriptPath string `json:"script_path"`

	// Keyed by workflow name.
	ModelPaths  map[string]string `json:"model_paths"`
	ModelRepos  map[string]string `json:"model_repos"`
	ModelImages map[string]string `json:"model_images"`
	ModelJobs   map[string]string `json:"model_jobs"`
}

func NewSlurmConfig() SlurmConfig {
	return SlurmConfig{
		Host:         DefaultHost,
		InlineSSHEnv: DefaultInlineSSHEnv,
		DataPath:     DefaultSlurmDataPath,
		ImagesPath:   DefaultSlurmImagesPath,
		ScriptPath:   DefaultSlurmScriptPath,
		ModelPaths:   map[string]string{},
		ModelRepos:   map[string]string{},
		ModelImages:  map[string]string{},
		ModelJobs:    map[string]string{},
	}
}

// Workflows returns the names of all workflows that have an image path, sorted.
func (self SlurmConfig) Workflows() []string {
	names := maps.Keys(self.ModelPaths)
	slices.Sort(names)
	return names
}

func (self SlurmConfig) Workflow(name string) (Workflow, error) {
	path, ok := self.ModelPaths[name]
	if !ok {
		return Workflow{}, UnknownWorkflowError{Name: name}
	}
	return Workflow{
		Name:      name,
		ModelPath: path,
		Repo:      self.ModelRepos[name],
		Image:     self.ModelImages[name],
		JobScript: self.ModelJobs[name],
	}, nil
}

// Workflow describes one analysis container that can be run on the cluster.
type Workflow struct {
	Name string `json:"name"`
	// Directory of the Singularity images, relative to the images path.
	ModelPath string `json:"model_path"`
	Repo      string `json:"repo,omitempty"`
	// Docker Hub image the Singularity images were built from.
	Image string `json:"image,omitempty"`
	// Job script, relative to the script path.
	JobScript string `json:"job_script,omitempty"`
}

type WorkflowRequest struct {
	Workflow     string            `json:"workflow"`
	ImageVersion string            `json:"image_version"`
	InputData    string            `json:"input_data"`
	Params       map[string]string `json:"params,omitempty"`
	Email        *string           `json:"email,omitempty"`
	Time         *string           `json:"time,omitempty"`
}

type CellposeRequest struct {
	ImageVersion  string  `json:"image_version"`
	InputData     string  `json:"input_data"`
	Model         string  `json:"cp_model"`
	NucChannel    int     `json:"nuc_channel"`
	ProbThreshold float64 `json:"prob_threshold"`
	CellDiameter  float64 `json:"cell_diameter"`
	Email         *string `json:"email,omitempty"`
	Time          *string `json:"time,omitempty"`
}
