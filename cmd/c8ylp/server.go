package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/c8ylp/c8ylp-go/internal/cmdutil"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	f := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "server <device>",
		Short: "Run the bridge, exposing the device's remote-access tunnel on a local TCP port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runServer(f, args[0]))
			return nil
		},
	}
	registerSessionFlags(cmd, f)
	return cmd
}

// runServer builds and runs one session to completion, returning the process exit code per §6.
func runServer(f *sessionFlags, device string) int {
	sess, err := newSession(f, device, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeForStartupErr(err)
	}
	defer sess.Close()

	sess.engine.SetListeningHook(func(addr net.Addr) {
		sess.logger.Printf("listening on %s, waiting for a client to attach", addr.String())
	})

	return sess.engine.Run(context.Background())
}

// exitCodeForStartupErr maps a config/cloud-client construction failure (both of which happen
// before the engine state machine even starts) to its exit code, mirroring engine.exitCodeFor
// for the subset of fserrors.Kind values reachable this early.
func exitCodeForStartupErr(err error) int {
	if cmdutil.IsUsage(err) {
		return 2
	}
	return startupExitCode(err)
}
