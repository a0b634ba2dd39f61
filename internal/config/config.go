// Package config builds the immutable credential and tuning snapshot the proxy engine runs
// with. Values are resolved once at startup: explicit call arguments override the process
// environment, which overrides values loaded from an optional dotenv file.
package config

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c8ylp/c8ylp-go/fserrors"
	"github.com/c8ylp/c8ylp-go/internal/cmdutil"
	"github.com/joho/godotenv"
)

var (
	errMissingHost   = errors.New("missing host URL (set --host or C8Y_HOST)")
	errInvalidHost   = errors.New("invalid host URL: must be an absolute URL with scheme and host")
	errMissingDevice = errors.New("missing device identifier")
)

// Credentials is the immutable snapshot of cloud login material for one session. It is never
// logged and never serialized.
type Credentials struct {
	Host     string
	Tenant   string
	User     string
	Password string
	Token    string
	TFACode  string
}

// Config is the full set of values the engine needs to run one session.
type Config struct {
	Credentials Credentials

	Device string
	// RemoteAccessType selects which of the device's c8y_RemoteAccessList configurations to
	// tunnel through, e.g. "PASSTHROUGH" for a raw TCP passthrough agent.
	RemoteAccessType string

	Port              int
	PingInterval      time.Duration
	MaxFrameSize      int
	TCPIdleTimeout    time.Duration
	SSLIgnoreVerify   bool
	MaxReconnects     int
	Verbose           bool
}

// Defaults returns a Config populated with the values in §6 of the external interface, before
// any environment or flag resolution.
func Defaults() Config {
	return Config{
		RemoteAccessType: "PASSTHROUGH",
		Port:             2222,
		PingInterval:     30 * time.Second,
		MaxFrameSize:     16 * 1024,
		// TCPIdleTimeout, MaxReconnects default to disabled/unlimited (zero value).
	}
}

// Overrides carries explicit, caller-supplied values (typically parsed CLI flags) that take
// precedence over both the environment and the dotenv file. A field left at its zero value is
// treated as "not explicitly set" and falls through to the next source.
type Overrides struct {
	Host, Tenant, User, Password, Token, TFACode string
	Device                                       string
	RemoteAccessType                             string
	Port                                         int
	PingInterval                                 time.Duration
	MaxFrameSize                                 int
	TCPIdleTimeout                               time.Duration
	SSLIgnoreVerify                              *bool
	MaxReconnects                                *int
	Verbose                                      *bool
	EnvFile                                      string
}

// Load resolves a Config from overrides, the process environment, and an optional dotenv file.
// The dotenv file (if set) is read into a separate map that is consulted only after the process
// environment; it is never copied into the process environment. Any error reading a dotenv file
// that was explicitly requested is fatal (ConfigError).
func Load(o Overrides) (Config, error) {
	env := map[string]string{}
	if strings.TrimSpace(o.EnvFile) != "" {
		loaded, err := godotenv.Read(o.EnvFile)
		if err != nil {
			return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
		}
		env = loaded
	}

	cfg := Defaults()

	cfg.Credentials.Host = firstNonEmpty(o.Host, lookupEnv(env, "C8Y_HOST"))
	cfg.Credentials.Tenant = firstNonEmpty(o.Tenant, lookupEnv(env, "C8Y_TENANT"))
	cfg.Credentials.User = firstNonEmpty(o.User, lookupEnv(env, "C8Y_USER"))
	cfg.Credentials.Password = firstNonEmpty(o.Password, lookupEnv(env, "C8Y_PASSWORD"))
	cfg.Credentials.Token = firstNonEmpty(o.Token, lookupEnv(env, "C8Y_TOKEN"))
	cfg.Credentials.TFACode = firstNonEmpty(o.TFACode, lookupEnv(env, "C8Y_TFA_CODE"))

	cfg.Device = firstNonEmpty(o.Device, lookupEnv(env, "C8YLP_DEVICE"))
	if v := firstNonEmpty(o.RemoteAccessType, lookupEnv(env, "C8YLP_REMOTE_ACCESS_TYPE")); v != "" {
		cfg.RemoteAccessType = v
	}

	if o.Port != 0 {
		cfg.Port = o.Port
	} else if v, ok, err := envInt(env, "C8YLP_PORT"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.Port = v
	}

	if o.PingInterval != 0 {
		cfg.PingInterval = o.PingInterval
	} else if v, ok, err := envDuration(env, "C8YLP_PING_INTERVAL"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.PingInterval = v
	}

	if o.MaxFrameSize != 0 {
		cfg.MaxFrameSize = o.MaxFrameSize
	} else if v, ok, err := envInt(env, "C8YLP_TCP_SIZE"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.MaxFrameSize = v
	}

	if o.TCPIdleTimeout != 0 {
		cfg.TCPIdleTimeout = o.TCPIdleTimeout
	} else if v, ok, err := envDuration(env, "C8YLP_TCP_TIMEOUT"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.TCPIdleTimeout = v
	}

	if o.SSLIgnoreVerify != nil {
		cfg.SSLIgnoreVerify = *o.SSLIgnoreVerify
	} else if v, ok, err := envBool(env, "C8YLP_SSL_IGNORE_VERIFY"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.SSLIgnoreVerify = v
	}

	if o.MaxReconnects != nil {
		cfg.MaxReconnects = *o.MaxReconnects
	} else if v, ok, err := envInt(env, "C8YLP_RECONNECTS"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.MaxReconnects = v
	}

	if o.Verbose != nil {
		cfg.Verbose = *o.Verbose
	} else if v, ok, err := envBool(env, "C8YLP_VERBOSE"); err != nil {
		return Config{}, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	} else if ok {
		cfg.Verbose = v
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Credentials.Host) == "" {
		return fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, errMissingHost)
	}
	u, err := url.Parse(c.Credentials.Host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, errInvalidHost)
	}
	if strings.TrimSpace(c.Device) == "" {
		return fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, errMissingDevice)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// lookupEnv prefers the dotenv-loaded map (when present) for a key, then falls back to the
// process environment via cmdutil, matching the explicit > process env > dotenv precedence.
func lookupEnv(dotenv map[string]string, key string) string {
	if v := cmdutil.EnvString(key, ""); v != "" {
		return v
	}
	if v, ok := dotenv[key]; ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func envInt(dotenv map[string]string, key string) (int, bool, error) {
	raw := rawEnvOrDotenv(dotenv, key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func envBool(dotenv map[string]string, key string) (bool, bool, error) {
	raw := rawEnvOrDotenv(dotenv, key)
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return v, true, nil
}

func envDuration(dotenv map[string]string, key string) (time.Duration, bool, error) {
	raw := rawEnvOrDotenv(dotenv, key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func rawEnvOrDotenv(dotenv map[string]string, key string) string {
	if v := cmdutil.EnvString(key, ""); v != "" {
		return v
	}
	return strings.TrimSpace(dotenv[key])
}
