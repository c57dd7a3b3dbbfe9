package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type JobState string

const (
	JobStatePending     JobState = "PENDING"
	JobStateRunning     JobState = "RUNNING"
	JobStateSuspended   JobState = "SUSPENDED"
	JobStateRequeued    JobState = "REQUEUED"
	JobStateResizing    JobState = "RESIZING"
	JobStateCompleted   JobState = "COMPLETED"
	JobStateFailed      JobState = "FAILED"
	JobStateCancelled   JobState = "CANCELLED"
	JobStateTimeout     JobState = "TIMEOUT"
	JobStateNodeFail    JobState = "NODE_FAIL"
	JobStateOutOfMemory JobState = "OUT_OF_MEMORY"
	JobStatePreempted   JobState = "PREEMPTED"
	JobStateDeadline    JobState = "DEADLINE"
	JobStateBootFail    JobState = "BOOT_FAIL"
	JobStateSpecialExit JobState = "SPECIAL_EXIT"
	JobStateRevoked     JobState = "REVOKED"
	JobStateUnknown     JobState = "UNKNOWN"
)

// ErrNoJobStatus is returned when sacct has no record of a job.
var ErrNoJobStatus = errors.New("No job status in sacct output")

// ParseJobState accepts the State column of sacct,
// which may carry a suffix like "CANCELLED by 1000".
// States this program does not know are kept as reported.
func ParseJobState(str string) JobState {
	fields := strings.Fields(strings.TrimSpace(str))
	if len(fields) == 0 {
		return JobStateUnknown
	}
	return JobState(strings.TrimRight(strings.ToUpper(fields[0]), "+"))
}

func (self JobState) String() string {
	return string(self)
}

// IsTerminal tells whether Slurm will not change the state anymore.
// Only the states in which a job may still run count as active, so that a
// state added by a newer Slurm does not keep a job polled forever.
func (self JobState) IsTerminal() bool {
	switch self {
	case JobStatePending, JobStateRunning, JobStateSuspended, JobStateRequeued, JobStateResizing, JobStateUnknown,
		"REQUEUE_HOLD", "REQUEUE_FED", "RESV_DEL_HOLD", "CONFIGURING", "COMPLETING", "SIGNALING", "STAGE_OUT", "STOPPED":
		return false
	}
	return true
}

// JobStatus is one line of sacct output as produced by JobStatusCommand.
type JobStatus struct {
	ID    int64      `json:"id"`
	State JobState   `json:"state"`
	End   *time.Time `json:"end"`
}

const sacctTimeLayout = "2006-01-02T15:04:05"

func ParseJobStatus(output string) (status JobStatus, err error) {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if status.ID, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
			err = errors.WithMessagef(err, "Invalid job ID in sacct output %q", line)
			return
		}

		status.State = JobStateUnknown
		if len(fields) > 1 {
			status.State = ParseJobState(fields[1])
		}

		if len(fields) > 2 {
			if end, err := time.ParseInLocation(sacctTimeLayout, fields[len(fields)-1], time.Local); err == nil {
				status.End = &end
			}
		}

		return
	}

	err = errors.WithMessagef(ErrNoJobStatus, "Output %q", output)
	return
}

// Job is a Slurm job that was submitted through this program.
type Job struct {
	ID          int64      `json:"id"`
	Workflow    string     `json:"workflow"`
	InputData   string     `json:"input_data"`
	State       JobState   `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Progress    *string    `json:"progress"`
}

// ExtractJobID finds the ID in the output of sbatch.
// It returns -1 if there is none.
func ExtractJobID(stdout string) int64 {
	for _, part := range strings.Split(stdout, submittedBatchJobMessage) {
		part = strings.TrimSpace(part)
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			return id
		}
	}
	return -1
}
