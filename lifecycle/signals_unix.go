//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// Signals returns the OS signals that trigger a graceful stop: SIGINT and SIGTERM.
func Signals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
