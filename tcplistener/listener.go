// Package tcplistener binds the local loopback TCP port the proxy engine exposes to native
// clients, accepting at most one attached client at a time.
package tcplistener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrBusy names the condition of a client already being attached. Nothing in this package
// returns it: Accept hands out every connection, and RejectNext closes surplus ones.
var ErrBusy = errors.New("tcplistener: a client is already attached")

// Listener binds 127.0.0.1:<port> and hands accepted connections to Accept callers; limiting
// the session to one attached connection is left to the caller (see Accept and RejectNext).
//
// A single background goroutine owns the real net.Listener for the Listener's whole lifetime
// and feeds accepted connections into an unbuffered channel (each one goes straight to a
// waiting Accept) and the terminal Accept error into a one-slot buffered channel. Accept
// only ever reads from those channels or ctx.Done(); a canceled per-call context unblocks that
// one call without touching the underlying socket, so the bound port survives across however
// many attempt-scoped contexts the caller passes in. Only Close ever closes l.ln.
type Listener struct {
	ln     net.Listener
	connCh chan net.Conn
	errCh  chan error
	closed chan struct{}
	once   sync.Once
}

// Listen binds 127.0.0.1:port. port=0 lets the OS choose a free port.
func Listen(port int) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ln:     ln,
		connCh: make(chan net.Conn),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// acceptLoop runs for as long as the real listener is open, handing each accepted connection
// (or the terminal error once the socket is closed) to whichever Accept call is waiting.
func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case l.errCh <- err:
			case <-l.closed:
			}
			return
		}
		select {
		case l.connCh <- conn:
		case <-l.closed:
			_ = conn.Close()
			return
		}
	}
}

// Addr returns the bound address, including the OS-chosen port when Listen was called with 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close releases the underlying socket. Any blocked Accept unblocks with an error. Safe to call
// more than once.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return l.ln.Close()
}

// Accept blocks for the next incoming connection, or until ctx is done. Canceling ctx only
// unblocks this call; it never closes the listener, so a later call with a fresh context can
// still accept on the same bound port. The caller is responsible for enforcing the
// at-most-one-attachment policy: call RejectNext to immediately close any connection that
// should not become the active attachment while one already is.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case err := <-l.errCh:
		return nil, err
	case <-l.closed:
		return nil, errors.New("tcplistener: listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RejectNext closes conn immediately with an RST where supported, refusing it as a second
// attachment while one client is already bound to the tunnel. This is the default policy
// (§4.4): additional connections are closed rather than queued.
func RejectNext(conn net.Conn) error {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	return conn.Close()
}
