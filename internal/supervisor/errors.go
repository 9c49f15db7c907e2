package supervisor

import (
	"errors"
	"fmt"
)

// spawnFailedError signals that llama-server could not be launched or
// exited before becoming healthy.
type spawnFailedError struct {
	bin string
	err error
}

func (e spawnFailedError) Error() string {
	return fmt.Sprintf("spawn llama-server %q: %v", e.bin, e.err)
}

func (e spawnFailedError) Unwrap() error { return e.err }

// IsSpawnFailed reports whether err indicates a failed launch.
func IsSpawnFailed(err error) bool {
	var e spawnFailedError
	return errors.As(err, &e)
}

// healthTimeoutError signals that llama-server did not report healthy in time.
// The process is left running.
type healthTimeoutError struct {
	url     string
	timeout string
}

func (e healthTimeoutError) Error() string {
	return "llama-server at " + e.url + " did not become healthy within " + e.timeout
}

// IsHealthTimeout reports whether err indicates a startup health timeout.
func IsHealthTimeout(err error) bool {
	var e healthTimeoutError
	return errors.As(err, &e)
}

// alreadyRunningError is returned by Start while a live process is held.
type alreadyRunningError struct{ pid int }

func (e alreadyRunningError) Error() string {
	return fmt.Sprintf("llama-server already running (pid %d)", e.pid)
}

// IsAlreadyRunning reports whether err indicates Start was called twice.
func IsAlreadyRunning(err error) bool {
	var e alreadyRunningError
	return errors.As(err, &e)
}
