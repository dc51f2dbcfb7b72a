package session

import (
	"errors"
	"fmt"

	"github.com/radio-control/daxiq/internal/setup"
)

// Start failures.
var (
	ErrDiscoveryEmpty = errors.New("DISCOVERY_EMPTY")
	ErrConnectFailure = errors.New("CONNECT_FAILURE")
	ErrSetupFailure   = setup.ErrSetupFailure
	ErrAlreadyStarted = errors.New("ALREADY_STARTED")
)

// StartError reports the Start step that failed.
type StartError struct {
	Step string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed at %s: %v", e.Step, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// StepOf returns the failed step of a Start error, or "".
func StepOf(err error) string {
	var se *StartError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
