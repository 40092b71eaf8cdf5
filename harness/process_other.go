//go:build windows

package harness

import "os"

// Windows has no SIGTERM; the graceful phase is skipped.
func terminate(p *os.Process) error {
	return p.Kill()
}
