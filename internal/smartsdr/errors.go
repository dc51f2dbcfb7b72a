package smartsdr

import (
	"errors"
	"fmt"
	"sort"
)

// Command channel errors.
var (
	ErrNotConnected     = errors.New("NOT_CONNECTED")
	ErrCommandTimeout   = errors.New("COMMAND_TIMEOUT")
	ErrCommandRejected  = errors.New("COMMAND_REJECTED")
	ErrConnectionClosed = errors.New("CONNECTION_CLOSED")
	ErrAllRejected      = errors.New("ALL_REJECTED")
	ErrAlreadyConnected = errors.New("ALREADY_CONNECTED")
)

// StatusSuccess is the only accepting response status.
const StatusSuccess uint32 = 0x00000000

// StatusMessages maps response status codes to their known meaning.
// Unknown codes are reported once per client so new ones can be added here.
var StatusMessages = map[uint32]string{
	0x00000000: "Success",
	0x50000001: "Unable to get foundation receiver assignment",
	0x50000003: "License check failed, cannot create slice receiver",
	0x50000005: "Incorrect number or type of parameters",
	0x50000016: "Malformed command",
	0x5000002C: "Incorrect number of parameters",
	0x5000002D: "Bad field",
	0x50000063: "Operation not allowed",
	0x50001000: "Command handler rejection",
}

// StatusText formats a status code with its meaning.
func StatusText(status uint32) string {
	if msg, ok := StatusMessages[status]; ok {
		return fmt.Sprintf("0x%08X (%s)", status, msg)
	}
	return fmt.Sprintf("0x%08X (unmapped status code)", status)
}

// KnownStatusCodes returns the mapped codes in ascending order.
func KnownStatusCodes() []uint32 {
	codes := make([]uint32, 0, len(StatusMessages))
	for code := range StatusMessages {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// CommandError is a nonzero response status from the radio.
type CommandError struct {
	Seq     uint32
	Command string
	Status  uint32
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("radio rejected command: %s -> %s", e.Command, StatusText(e.Status))
	}
	return fmt.Sprintf("radio rejected command: %s -> %s %s", e.Command, StatusText(e.Status), e.Message)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandRejected
}

// StatusOf extracts the radio status code from err, if it carries one.
func StatusOf(err error) (uint32, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Status, true
	}
	return 0, false
}

// Outcome classifies a command error as SUCCESS, TIMEOUT, REJECTED,
// UNAVAILABLE or ERROR.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrCommandTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrCommandRejected), errors.Is(err, ErrAllRejected):
		return "REJECTED"
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrConnectionClosed):
		return "UNAVAILABLE"
	default:
		return "ERROR"
	}
}
