package main

import (
	"time"

	"github.com/c8ylp/c8ylp-go/internal/cmdutil"
	"github.com/c8ylp/c8ylp-go/internal/config"
	"github.com/spf13/cobra"
)

// sessionFlags holds every flag the engine needs, shared between "server" and "connect ssh".
// Each flag's default is pre-resolved from its C8YLP_<FLAG>/C8Y_* environment variable (§6),
// so cobra's own flag value already carries the flag>env precedence; config.Load layers the
// dotenv file in beneath whatever reaches it here.
type sessionFlags struct {
	host, tenant, user, password, token, tfaCode string
	remoteAccessType                             string
	port                                          int
	pingInterval                                  time.Duration
	tcpSize                                       int
	tcpTimeout                                    time.Duration
	sslIgnoreVerify                               bool
	reconnects                                    int
	envFile                                       string
	verbose                                       bool
	metricsListen                                 string
}

func registerSessionFlags(cmd *cobra.Command, f *sessionFlags) {
	fs := cmd.Flags()

	fs.StringVar(&f.host, "host", cmdutil.EnvString("C8Y_HOST", ""), "cloud host URL (env: C8Y_HOST)")
	fs.StringVar(&f.tenant, "tenant", cmdutil.EnvString("C8Y_TENANT", ""), "tenant id (env: C8Y_TENANT)")
	fs.StringVar(&f.user, "user", cmdutil.EnvString("C8Y_USER", ""), "username (env: C8Y_USER)")
	fs.StringVar(&f.password, "password", cmdutil.EnvString("C8Y_PASSWORD", ""), "password (env: C8Y_PASSWORD)")
	fs.StringVar(&f.token, "token", cmdutil.EnvString("C8Y_TOKEN", ""), "bearer token, bypasses login (env: C8Y_TOKEN)")
	fs.StringVar(&f.tfaCode, "tfa-code", cmdutil.EnvString("C8Y_TFA_CODE", ""), "TOTP second factor (env: C8Y_TFA_CODE)")
	fs.StringVar(&f.remoteAccessType, "remote-access-type", cmdutil.EnvString("C8YLP_REMOTE_ACCESS_TYPE", ""), "c8y_RemoteAccessList configuration name, default PASSTHROUGH (env: C8YLP_REMOTE_ACCESS_TYPE)")

	port, _ := cmdutil.EnvInt("C8YLP_PORT", 0)
	fs.IntVar(&f.port, "port", port, "local TCP port to bind (env: C8YLP_PORT, default 2222); --port 0 counts as unset and falls back to C8YLP_PORT or 2222, while C8YLP_PORT=0 lets the OS choose")

	pingInterval, _ := cmdutil.EnvDuration("C8YLP_PING_INTERVAL", 0)
	fs.DurationVar(&f.pingInterval, "ping-interval", pingInterval, "WebSocket keepalive ping interval (env: C8YLP_PING_INTERVAL, default 30s)")

	tcpSize, _ := cmdutil.EnvInt("C8YLP_TCP_SIZE", 0)
	fs.IntVar(&f.tcpSize, "tcp-size", tcpSize, "max WebSocket frame size in bytes (env: C8YLP_TCP_SIZE, default 16384)")

	tcpTimeout, _ := cmdutil.EnvDuration("C8YLP_TCP_TIMEOUT", 0)
	fs.DurationVar(&f.tcpTimeout, "tcp-timeout", tcpTimeout, "idle timeout for the attached TCP client, 0 disables (env: C8YLP_TCP_TIMEOUT)")

	sslIgnoreVerify, _ := cmdutil.EnvBool("C8YLP_SSL_IGNORE_VERIFY", false)
	fs.BoolVar(&f.sslIgnoreVerify, "ssl-ignore-verify", sslIgnoreVerify, "skip TLS certificate verification on the tunnel upgrade (env: C8YLP_SSL_IGNORE_VERIFY)")

	reconnects, _ := cmdutil.EnvInt("C8YLP_RECONNECTS", 0)
	fs.IntVar(&f.reconnects, "reconnects", reconnects, "max idle-tunnel reconnect attempts, 0 is unlimited (env: C8YLP_RECONNECTS)")

	fs.StringVar(&f.envFile, "env-file", cmdutil.EnvString("C8YLP_ENV_FILE", ""), "dotenv file to load beneath the environment (env: C8YLP_ENV_FILE)")

	verbose, _ := cmdutil.EnvBool("C8YLP_VERBOSE", false)
	fs.BoolVarP(&f.verbose, "verbose", "v", verbose, "print debug-level logs: state transitions, idle reconnect causes, and file:line prefixes (env: C8YLP_VERBOSE)")

	fs.StringVar(&f.metricsListen, "metrics-listen", cmdutil.EnvString("C8YLP_METRICS_LISTEN", ""), "address to serve Prometheus metrics on, empty disables (env: C8YLP_METRICS_LISTEN)")
}

// overrides builds the config.Overrides for device, ready to pass to config.Load. device is
// taken from the positional argument rather than a flag, per §6's "server <device>" surface.
func (f *sessionFlags) overrides(device string) config.Overrides {
	sslIgnoreVerify := f.sslIgnoreVerify
	reconnects := f.reconnects
	verbose := f.verbose
	return config.Overrides{
		Host:             f.host,
		Tenant:           f.tenant,
		User:             f.user,
		Password:         f.password,
		Token:            f.token,
		TFACode:          f.tfaCode,
		Device:           device,
		RemoteAccessType: f.remoteAccessType,
		Port:             f.port,
		PingInterval:     f.pingInterval,
		MaxFrameSize:     f.tcpSize,
		TCPIdleTimeout:   f.tcpTimeout,
		SSLIgnoreVerify:  &sslIgnoreVerify,
		MaxReconnects:    &reconnects,
		Verbose:          &verbose,
		EnvFile:          f.envFile,
	}
}
