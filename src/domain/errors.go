package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoProgress is returned when the log of a job shows no progress yet.
var ErrNoProgress = errors.New("No progress in log")

type UnknownWorkflowError struct {
	Name string
}

func (self UnknownWorkflowError) Error() string {
	return fmt.Sprintf("No path known for workflow %q", self.Name)
}

// InvalidParamError is returned for a workflow parameter whose name cannot be
// used as an environment variable.
type InvalidParamError struct {
	Key string
}

func (self InvalidParamError) Error() string {
	return fmt.Sprintf("Invalid parameter name %q", self.Key)
}

type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (self InvalidPatternError) Error() string {
	return fmt.Sprintf("Invalid progress pattern %q: %s", self.Pattern, self.Err)
}

func (self InvalidPatternError) Unwrap() error {
	return self.Err
}

// CommandError is returned when a remote command exits with a non-zero status.
type CommandError struct {
	Command    string
	ExitStatus int
	Stdout     string
	Stderr     string
}

func (self *CommandError) Error() string {
	msg := fmt.Sprintf("Command exited with status %d: %s", self.ExitStatus, self.Command)
	if stderr := strings.TrimSpace(self.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}
