package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/c8ylp/c8ylp-go/engine"
	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run the bridge and hand it off to a native client as a child process",
	}
	cmd.AddCommand(newConnectSSHCmd())
	return cmd
}

func newConnectSSHCmd() *cobra.Command {
	f := &sessionFlags{}
	var sshBin string
	var sshArgs []string
	cmd := &cobra.Command{
		Use:   "ssh <device>",
		Short: "Run the bridge, then spawn an ssh client against the local port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runConnectSSH(f, args[0], sshBin, sshArgs))
			return nil
		},
	}
	registerSessionFlags(cmd, f)
	cmd.Flags().StringVar(&sshBin, "ssh-binary", "ssh", "path to the ssh client binary to spawn")
	cmd.Flags().StringArrayVar(&sshArgs, "ssh-arg", nil, "extra argument to pass to the ssh client (repeatable)")
	return cmd
}

// runConnectSSH runs the bridge until its local port is bound, spawns the ssh client with
// inherited stdio, and exits with the child's exit code once it exits — or the bridge's own
// failure code, whichever comes first. This is the CLI's external collaborator described in
// §1/§6; the proxy engine itself knows nothing about ssh or child processes.
func runConnectSSH(f *sessionFlags, device, sshBin string, sshArgs []string) int {
	sess, err := newSession(f, device, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeForStartupErr(err)
	}
	defer sess.Close()

	var once sync.Once
	addrCh := make(chan net.Addr, 1)
	sess.engine.SetListeningHook(func(addr net.Addr) {
		once.Do(func() { addrCh <- addr })
	})

	engineDone := make(chan int, 1)
	go func() { engineDone <- sess.engine.Run(context.Background()) }()

	select {
	case code := <-engineDone:
		// The bridge never got as far as binding the local port: auth, device resolution, or
		// the bind itself failed, so there is nothing for an ssh client to connect to.
		return code
	case addr := <-addrCh:
		return runSSHChild(sess, addr, sshBin, sshArgs, engineDone)
	}
}

func runSSHChild(sess *session, addr net.Addr, sshBin string, sshArgs []string, engineDone <-chan int) int {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		sess.logger.Printf("could not determine bound port from %s: %v", addr, err)
		sess.ctrl.Stop(nil)
		return <-engineDone
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		sess.logger.Printf("could not parse bound port %q: %v", portStr, err)
		sess.ctrl.Stop(nil)
		return <-engineDone
	}

	cmdArgs := append([]string{"-p", strconv.Itoa(port)}, sshArgs...)
	cmdArgs = append(cmdArgs, "127.0.0.1")
	child := exec.Command(sshBin, cmdArgs...)
	child.Stdin, child.Stdout, child.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := child.Start(); err != nil {
		sess.logger.Printf("failed to start %s: %v", sshBin, err)
		sess.ctrl.Stop(nil)
		<-engineDone
		return engine.ExitGeneric
	}

	childDone := make(chan int, 1)
	go func() { childDone <- childExitCode(child.Wait()) }()

	select {
	case code := <-engineDone:
		// The tunnel failed or the operator stopped it before the client exited on its own;
		// the child has nothing left to talk to.
		if child.Process != nil {
			_ = child.Process.Kill()
		}
		<-childDone
		return code
	case code := <-childDone:
		// The client exited on its own. Tear the bridge down and report the client's exit
		// code, which is what an operator invoking "connect ssh" actually cares about.
		sess.ctrl.Stop(nil)
		<-engineDone
		return code
	}
}

func childExitCode(err error) int {
	if err == nil {
		return engine.ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return engine.ExitGeneric
}
