package common

import "fmt"

// MountError is returned when acquiring or releasing an OS resource fails:
// mounting, loop device setup or filesystem creation.
type MountError struct {
	Reason string
	Err    error
}

func (e *MountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// MountErrorf builds a MountError with a formatted reason wrapping err.
func MountErrorf(err error, format string, a ...interface{}) *MountError {
	return &MountError{Reason: fmt.Sprintf(format, a...), Err: err}
}

// InstallationError is the error kind observed above the resource layer.
// Any MountError reaching a build phase is wrapped into one.
type InstallationError struct {
	Reason string
	Err    error
}

func (e *InstallationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *InstallationError) Unwrap() error {
	return e.Err
}

// InstallationErrorf builds an InstallationError with a formatted reason
// wrapping err, which may be nil.
func InstallationErrorf(err error, format string, a ...interface{}) *InstallationError {
	return &InstallationError{Reason: fmt.Sprintf(format, a...), Err: err}
}
