package cli

import (
	"errors"
	"fmt"

	"mercator-hq/ilm/pkg/config"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// exitCoder is implemented by errors that choose their own exit status.
type exitCoder interface {
	ExitCode() int
}

// ConfigError is a bad flag or configuration value. It exits with ExitConfig.
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError returns a ConfigError for field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExitCode implements exitCoder.
func (e *ConfigError) ExitCode() int { return ExitConfig }

// CommandError wraps the failure of a subcommand.
type CommandError struct {
	Command string
	Err     error
}

// NewCommandError wraps err as a failure of command.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit status. The first error in the chain
// that picks its own status wins; configuration validation failures map to
// ExitConfig and everything else to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	var ve config.ValidationError
	if errors.As(err, &ve) {
		return ExitConfig
	}
	return ExitFailure
}
