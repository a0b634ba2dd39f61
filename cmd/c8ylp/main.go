// Command c8ylp is the operator-workstation CLI for the TCP<->WebSocket remote-access bridge:
// it authenticates against the cloud, resolves a target device, and exposes a local TCP port
// that transparently bridges to the device's remote-access tunnel.
package main

import "os"

// These are overridden at build time via -ldflags, matching the teacher's convention.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		// cobra has already printed the error (usage output is silenced on the root command); a
		// bad invocation is always exit 2.
		os.Exit(2)
	}
}
