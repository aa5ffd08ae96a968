package wasmplugin

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidABI is matched by every module admission failure.
	ErrInvalidABI       = errors.New("module does not implement the plugin ABI")
	ErrMissingExport    = errors.New("required export missing")
	ErrMismatchedExport = errors.New("export signature mismatch")

	// ErrGuestTrap wraps any error the engine reports while running guest code.
	ErrGuestTrap = errors.New("guest trapped")
	// ErrMarshal is returned when data cannot cross the guest boundary.
	ErrMarshal              = errors.New("marshal failure")
	ErrMalformedString      = errors.New("malformed guest string")
	ErrGuestReportedFailure = errors.New("guest reported failure")

	ErrNoCurrentPlugin          = errors.New("plugin is not set")
	ErrFunctionIndexOutOfBounds = errors.New("function index out of bounds")
	ErrInvalidState             = errors.New("operation not allowed in current plugin state")
	ErrPluginDestroyed          = errors.New("plugin is destroyed")
	ErrControllerTerminated     = errors.New("controller is terminated")
)

// GuestReportedError is returned when a status cell holds a non-zero value.
type GuestReportedError struct {
	// Export is the entry point that reported the status.
	Export     string
	Status     Status
	Reason     string
	Suggestion string
}

func (e *GuestReportedError) Error() string {
	msg := fmt.Sprintf("wasm: %s returned %s", e.Export, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrGuestReportedFailure) hold.
func (e *GuestReportedError) Is(target error) bool {
	return target == ErrGuestReportedFailure
}

func missingExportError(name string) error {
	return fmt.Errorf("wasm: %s is not exported: %w: %w", name, ErrMissingExport, ErrInvalidABI)
}

func mismatchedExportError(name string, got, want string) error {
	return fmt.Errorf("wasm: %s has signature %s, want %s: %w: %w", name, got, want, ErrMismatchedExport, ErrInvalidABI)
}
