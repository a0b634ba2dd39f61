package main

import (
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/c8ylp/c8ylp-go/engine"
	"github.com/c8ylp/c8ylp-go/internal/cloudclient"
	"github.com/c8ylp/c8ylp-go/internal/config"
	"github.com/c8ylp/c8ylp-go/internal/securefile"
	"github.com/c8ylp/c8ylp-go/lifecycle"
	"github.com/c8ylp/c8ylp-go/observability"
	"github.com/c8ylp/c8ylp-go/observability/prom"
)

// session bundles everything a run of the engine needs, built once by newSession and torn
// down by its Close.
type session struct {
	engine      *engine.Engine
	ctrl        *lifecycle.Controller
	logger      *log.Logger
	logFile     *os.File
	stopMetrics func() error
}

// newSession resolves configuration, opens the per-device log file under ~/.c8ylp (§6's
// persisted-state convention), wires an optional Prometheus metrics endpoint, and builds the
// engine. The caller must call Close when done, regardless of how the run ends.
func newSession(f *sessionFlags, device string, stderr *os.File) (*session, error) {
	cfg, err := config.Load(f.overrides(device))
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newDeviceLogger(device, cfg.Verbose, stderr)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	if cfg.SSLIgnoreVerify {
		httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	cloud, err := cloudclient.New(cfg.Credentials, httpClient)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	var obs observability.SessionObserver
	stopMetrics := func() error { return nil }
	if f.metricsListen != "" {
		reg := prom.NewRegistry()
		sessionObs := prom.NewSessionObserver(reg)
		obs = sessionObs
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		srv := &http.Server{Addr: f.metricsListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
		stopMetrics = srv.Close
	}

	ctrl := lifecycle.New()
	eng := engine.New(cfg, cloud, obs, logger, ctrl)

	return &session{engine: eng, ctrl: ctrl, logger: logger, logFile: logFile, stopMetrics: stopMetrics}, nil
}

func (s *session) Close() {
	if s.stopMetrics != nil {
		_ = s.stopMetrics()
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}

// newDeviceLogger builds the logger every long-running component shares (§10's "single
// *log.Logger handed down from cmd/c8ylp"). Output goes to stderr and, best-effort, to an
// append-only ~/.c8ylp/<device>.log file created with owner-only permissions.
func newDeviceLogger(device string, verbose bool, stderr *os.File) (*log.Logger, *os.File, error) {
	flags := log.LstdFlags
	if verbose {
		flags |= log.Lshortfile
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return log.New(stderr, "", flags), nil, nil
	}
	dir := filepath.Join(home, ".c8ylp")
	if err := securefile.MkdirAllOwnerOnly(dir); err != nil {
		// A log directory we can't create is not fatal to the bridge itself; fall back to
		// stderr-only logging.
		return log.New(stderr, "", flags), nil, nil
	}

	name := sanitizeLogName(device)
	f, err := os.OpenFile(filepath.Join(dir, name+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return log.New(stderr, "", flags), nil, nil
	}
	return log.New(multiWriter(stderr, f), "", flags), f, nil
}

func sanitizeLogName(device string) string {
	var b strings.Builder
	for _, r := range device {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

func multiWriter(a, b *os.File) *prefixedMultiWriter {
	return &prefixedMultiWriter{a: a, b: b}
}

// prefixedMultiWriter duplicates every log write to stderr and the per-device log file,
// tolerating a nil/closed file so the CLI never fails a run over a logging problem.
type prefixedMultiWriter struct {
	a, b *os.File
}

func (w *prefixedMultiWriter) Write(p []byte) (int, error) {
	n, err := w.a.Write(p)
	if w.b != nil {
		_, _ = w.b.Write(p)
	}
	return n, err
}
