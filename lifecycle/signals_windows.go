//go:build windows

package lifecycle

import "os"

// Signals returns the OS signals that trigger a graceful stop. Windows delivers SIGTERM as
// os.Interrupt via CTRL+C handling, so only os.Interrupt is registered here.
func Signals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
