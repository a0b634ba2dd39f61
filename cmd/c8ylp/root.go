package main

import (
	"github.com/c8ylp/c8ylp-go/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "c8ylp",
		Short:         "Cumulocity remote-access local proxy: a local TCP<->WebSocket bridge",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version.String(buildVersion, buildCommit, buildDate),
	}
	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newConnectCmd())
	return cmd
}
