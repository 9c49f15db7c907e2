//go:build windows

package supervisor

import "os"

// terminate has no graceful equivalent on Windows; the process is killed.
func terminate(p *os.Process) error { return p.Kill() }
