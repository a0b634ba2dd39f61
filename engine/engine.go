package engine

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/c8ylp/c8ylp-go/fserrors"
	"github.com/c8ylp/c8ylp-go/internal/cloudclient"
	"github.com/c8ylp/c8ylp-go/internal/config"
	"github.com/c8ylp/c8ylp-go/internal/defaults"
	"github.com/c8ylp/c8ylp-go/lifecycle"
	"github.com/c8ylp/c8ylp-go/observability"
	"github.com/c8ylp/c8ylp-go/tcplistener"
	"github.com/c8ylp/c8ylp-go/tunnel"
)

// Engine owns one session's state machine: it authenticates, resolves the target device,
// keeps a tunnel open, and bridges at most one attached TCP client to it at a time.
type Engine struct {
	cfg    config.Config
	cloud  *cloudclient.Client
	obs    observability.SessionObserver
	logger *log.Logger
	ctrl   *lifecycle.Controller

	state       State
	wasAttached bool

	listeningHook func(net.Addr)

	mu             sync.Mutex
	activeListener *tcplistener.Listener
	activeTun      *tunnel.Tunnel
}

func (e *Engine) setActiveListener(l *tcplistener.Listener) {
	e.mu.Lock()
	e.activeListener = l
	e.mu.Unlock()
}

func (e *Engine) setActiveTunnel(t *tunnel.Tunnel) {
	e.mu.Lock()
	e.activeTun = t
	e.mu.Unlock()
}

// forceClose closes whatever listener and tunnel are currently active, bypassing their
// cooperative drain. Only called by watchShutdownGrace once ShutdownGrace has elapsed after a
// stop was requested (§4.6 step 6); Close on either is idempotent, so this is safe to run
// concurrently with the normal deferred/per-attempt close paths.
func (e *Engine) forceClose() {
	e.mu.Lock()
	l, t := e.activeListener, e.activeTun
	e.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}
	if t != nil {
		_ = t.Close(1001, "shutdown grace exceeded")
	}
}

// watchShutdownGrace backstops the cooperative cancellation that every pump, ping loop, and
// tunnel read/write already performs: if run doesn't finish within ShutdownGrace of ctx being
// done, it force-closes the active listener and tunnel directly (§4.6 steps 5-6).
func (e *Engine) watchShutdownGrace(ctx context.Context, runDone <-chan struct{}) {
	select {
	case <-runDone:
		return
	case <-ctx.Done():
	}
	select {
	case <-runDone:
	case <-time.After(defaults.ShutdownGrace):
		e.forceClose()
		<-runDone
	}
}

// SetListeningHook registers fn to be called once the local TCP listener is bound, with its
// actual address (useful when Port is 0 and the OS chose it). fn runs on the engine's own
// goroutine and must not block.
func (e *Engine) SetListeningHook(fn func(net.Addr)) {
	e.listeningHook = fn
}

// New builds an Engine for one run. obs and logger may be nil, in which case the no-op
// observer and a logger writing to the standard log package's output are used.
func New(cfg config.Config, cloud *cloudclient.Client, obs observability.SessionObserver, logger *log.Logger, ctrl *lifecycle.Controller) *Engine {
	if obs == nil {
		obs = observability.NoopSessionObserver
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	if ctrl == nil {
		ctrl = lifecycle.New()
	}
	return &Engine{cfg: cfg, cloud: cloud, obs: obs, logger: logger, ctrl: ctrl, state: StateInit}
}

// Run drives the session to completion and returns the process exit code. It blocks until the
// session reaches CLOSED, either because the operator stopped it (via ctx or the lifecycle
// controller), the attached tunnel failed, or an unrecoverable error occurred earlier in the
// pipeline.
func (e *Engine) Run(ctx context.Context) int {
	start := time.Now()
	runCtx := e.ctrl.Context(ctx)

	if stopSignals := e.ctrl.NotifyOSSignals(); stopSignals != nil {
		defer stopSignals()
	}

	runDone := make(chan struct{})
	go e.watchShutdownGrace(runCtx, runDone)

	err := e.run(runCtx)
	close(runDone)
	if err != nil {
		e.logger.Printf("error: %v", err)
		e.ctrl.Stop(err)
	}

	reason := observability.CloseReasonGraceful
	if err != nil {
		switch kind, _ := fserrors.KindOf(err); kind {
		case fserrors.KindAuth, fserrors.KindTFARequired:
			reason = observability.CloseReasonAuthFailure
		case fserrors.KindNotFound, fserrors.KindAmbiguous:
			reason = observability.CloseReasonNotFound
		case fserrors.KindBindFailure:
			reason = observability.CloseReasonBindFailure
		case fserrors.KindReconnectsExceeded:
			reason = observability.CloseReasonReconnectsExceeded
		}
	}
	e.transition(StateClosed)
	e.obs.SessionClosed(reason, time.Since(start))

	if runCtx.Err() != nil && err == nil {
		return ExitOK
	}
	if err != nil && e.wasAttached {
		// §6: a tunnel failure that happens while a TCP client is attached always ends the
		// process with this specific code, regardless of the underlying error's kind.
		return ExitTunnelClosedAttached
	}
	return exitCodeFor(err)
}

func (e *Engine) transition(to State) {
	from := e.state
	e.state = to
	e.obs.StateTransition(string(from), string(to))
	if e.cfg.Verbose {
		e.logger.Printf("state %s -> %s", from, to)
	}
}

// run carries out the login, resolve, and tunnel-serving pipeline. It returns the terminal
// error, or nil for a clean, operator-requested shutdown.
func (e *Engine) run(ctx context.Context) error {
	e.transition(StateAuth)
	loginCtx, cancel := cloudclient.WithLoginDeadline(ctx, defaults.LoginTimeout)
	token, err := e.cloud.Login(loginCtx, e.cfg.Credentials)
	cancel()
	if err != nil {
		return err
	}

	e.transition(StateResolving)
	resolveCtx, cancel := cloudclient.WithLoginDeadline(ctx, defaults.LoginTimeout)
	internalID, err := e.cloud.ResolveDevice(resolveCtx, token, e.cfg.Device)
	if err != nil {
		cancel()
		return err
	}
	wsURL, err := e.cloud.TunnelURL(resolveCtx, token, internalID, e.cfg.RemoteAccessType)
	cancel()
	if err != nil {
		return err
	}

	listener, err := tcplistener.Listen(e.cfg.Port)
	if err != nil {
		return fserrors.Wrap(fserrors.StageListen, fserrors.KindBindFailure, err)
	}
	defer listener.Close()
	e.setActiveListener(listener)
	if e.listeningHook != nil {
		e.listeningHook(listener.Addr())
	}

	tunOpts := tunnel.Options{
		MaxFrameSize:       e.cfg.MaxFrameSize,
		PingInterval:       e.cfg.PingInterval,
		InsecureSkipVerify: e.cfg.SSLIgnoreVerify,
		AuthHeader:         string(token),
	}

	return e.serve(ctx, listener, wsURL, tunOpts)
}

// serve runs the reconnect-and-accept loop: while no client is attached, it keeps a tunnel
// open and reconnects on idle failure; once a client attaches, it pumps bytes until the
// attachment ends, at which point the session is done.
func (e *Engine) serve(ctx context.Context, listener *tcplistener.Listener, wsURL string, tunOpts tunnel.Options) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaults.ReconnectBackoffMin
	bo.MaxInterval = defaults.ReconnectBackoffMax
	bo.MaxElapsedTime = 0

	reason := observability.ReconnectReasonInitial
	for attempt := 1; ; attempt++ {
		// attempt 1 is the initial dial, so attempt-1 reconnects have been made so far.
		if e.cfg.MaxReconnects > 0 && attempt-1 > e.cfg.MaxReconnects {
			return fserrors.Wrap(fserrors.StageTunnel, fserrors.KindReconnectsExceeded, nil)
		}

		e.transition(StateTunnelConnecting)
		e.obs.ReconnectAttempt(attempt, reason)
		tun, err := tunnel.Open(ctx, wsURL, tunOpts)
		if err != nil {
			wait := bo.NextBackOff()
			e.logger.Printf("tunnel connect attempt %d failed: %v (retrying in %s)", attempt, err, wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			reason = observability.ReconnectReasonIdleRefresh
			continue
		}
		bo.Reset()
		e.setActiveTunnel(tun)

		attached, err := e.serveOneTunnel(ctx, listener, tun)
		tun.Close(1000, "session ending")
		e.setActiveTunnel(nil)
		if attached {
			e.wasAttached = true
			// Once a client has attached, the attachment's outcome is the session's outcome:
			// a graceful client disconnect or operator stop ends cleanly, anything else is
			// reported as-is.
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		reason = observability.ReconnectReasonIdleRefresh
	}
}

// serveOneTunnel keeps one tunnel connection alive, accepting at most one TCP client; any
// connection that arrives while one is already attached is closed with RST (§4.4's default
// policy). It returns attached=true if a client ever attached during this tunnel's lifetime.
// err is non-nil only when attached is true (the attachment failed or the tunnel died under
// it) or when the listener itself failed outright; a tunnel dying while idle is not an error
// here, it is the caller's cue to open a new one (§8 property 4).
func (e *Engine) serveOneTunnel(ctx context.Context, listener *tcplistener.Listener, tun *tunnel.Tunnel) (attached bool, err error) {
	tunCtx, cancelTun := context.WithCancel(ctx)
	defer cancelTun()

	pingErr := make(chan error, 1)
	go func() { pingErr <- tun.PingLoop(tunCtx) }()

	// idleRecv keeps reading control and stray frames while no client is attached, so a
	// peer-initiated close is noticed immediately rather than only on the next failed ping
	// write. It is stopped before a pump ever touches the tunnel's receive side.
	idleCtx, cancelIdle := context.WithCancel(tunCtx)
	idleRecvErr := make(chan error, 1)
	idleDone := make(chan struct{})
	go func() {
		defer close(idleDone)
		for {
			if _, err := tun.Recv(idleCtx); err != nil {
				idleRecvErr <- err
				return
			}
		}
	}()
	// stopIdleRecv cancels the idle reader and waits for its Recv call to return, so no two
	// goroutines ever call Recv on the same tunnel at once.
	stopIdleRecv := func() {
		cancelIdle()
		<-idleDone
	}

	e.transition(StateTunnelOpenIdle)

	// acceptLoop hands off the first connection it sees and rejects every one after, for as
	// long as this tunnel is being served.
	firstConn := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		handedOff := false
		for {
			conn, err := listener.Accept(tunCtx)
			if err != nil {
				acceptErr <- err
				return
			}
			if handedOff {
				e.obs.ClientRejected()
				_ = tcplistener.RejectNext(conn)
				continue
			}
			handedOff = true
			firstConn <- conn
		}
	}()

	select {
	case perr := <-pingErr:
		stopIdleRecv()
		if tunCtx.Err() != nil {
			e.transition(StateDraining)
		} else if e.cfg.Verbose {
			e.logger.Printf("idle tunnel ping failed, reconnecting: %v", perr)
		}
		return false, nil
	case ierr := <-idleRecvErr:
		if tunCtx.Err() != nil {
			e.transition(StateDraining)
		} else if e.cfg.Verbose {
			e.logger.Printf("idle tunnel closed, reconnecting: %v", ierr)
		}
		return false, nil
	case aerr := <-acceptErr:
		stopIdleRecv()
		if tunCtx.Err() != nil {
			e.transition(StateDraining)
			return false, nil
		}
		return false, fserrors.Wrap(fserrors.StageListen, fserrors.KindTransport, aerr)
	case conn := <-firstConn:
		stopIdleRecv()
		attached = true
		e.obs.ClientAccepted()
		e.transition(StateTunnelOpenAttached)
		pumpErr := pump(tunCtx, conn, tun, e.cfg.MaxFrameSize, e.cfg.TCPIdleTimeout, e.obs)
		e.transition(StateDraining)
		if tunCtx.Err() != nil {
			return attached, nil
		}
		if pumpErr != nil {
			return attached, fserrors.Wrap(fserrors.StageAttach, classifyPumpErr(pumpErr), pumpErr)
		}
		return attached, nil
	}
}

func classifyPumpErr(err error) fserrors.Kind {
	if kind, ok := fserrors.KindOf(err); ok {
		return kind
	}
	return fserrors.KindTransport
}
