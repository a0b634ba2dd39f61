// Package tunnel wraps one WebSocket connection to the cloud remote-access endpoint as an
// opaque byte-stream with keepalive and controlled close, per the proxy engine's C3 contract.
package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c8ylp/c8ylp-go/fserrors"
	"github.com/c8ylp/c8ylp-go/internal/defaults"
	"github.com/c8ylp/c8ylp-go/realtime/ws"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send/Recv once Close has been initiated.
var ErrClosed = errors.New("tunnel: closed")

// Options configures a Tunnel at Open time.
type Options struct {
	// MaxFrameSize bounds a single outbound WebSocket frame; larger payloads passed to Send
	// are split into ordered frames of at most this size.
	MaxFrameSize int
	// PingInterval is how often a ping control frame is sent while the tunnel is open.
	PingInterval time.Duration
	// PongWait is the longest time to wait for a pong before the tunnel is considered dead.
	PongWait time.Duration
	// ConnectTimeout bounds the WebSocket upgrade handshake.
	ConnectTimeout time.Duration
	// InsecureSkipVerify disables TLS certificate validation (--ssl-ignore-verify).
	InsecureSkipVerify bool
	// AuthHeader, if set, is sent as the Authorization header on the upgrade request.
	AuthHeader string
}

// Tunnel is one live WebSocket carrying opaque binary frames in both directions.
type Tunnel struct {
	conn *ws.Conn
	opts Options

	writeMu sync.Mutex // serializes ping and data frame writes onto the wire.

	closeOnce sync.Once
	closed    atomic.Bool

	lastPong atomic.Int64 // unix nanos of the last observed pong.
}

// Open performs the WebSocket upgrade to url, carrying opts.AuthHeader as the bearer.
func Open(ctx context.Context, url string, opts Options) (*Tunnel, error) {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 16 * 1024
	}
	opts.PingInterval = defaults.EffectivePingInterval(opts.PingInterval)
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.EffectivePongWait(opts.PingInterval)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if opts.AuthHeader != "" {
		header.Set("Authorization", opts.AuthHeader)
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
	}
	if opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := ws.Dial(dialCtx, url, ws.DialOptions{Header: header, Dialer: dialer})
	if err != nil {
		kind := fserrors.ClassifyConnectKind(err)
		return nil, fserrors.Wrap(fserrors.StageConnect, kind, err)
	}

	t := &Tunnel{conn: conn, opts: opts}
	t.lastPong.Store(time.Now().UnixNano())
	conn.Underlying().SetPongHandler(func(string) error {
		t.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	return t, nil
}

// Send writes payload as one or more ordered binary frames, splitting at MaxFrameSize.
func (t *Tunnel) Send(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	max := t.opts.MaxFrameSize
	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > max {
			chunk = payload[:max]
		}
		if err := t.writeFrame(ctx, websocket.BinaryMessage, chunk); err != nil {
			return err
		}
		payload = payload[len(chunk):]
	}
	return nil
}

// writeFrame serializes access to the underlying connection's write side, since ping control
// frames and payload data frames are emitted from different goroutines.
func (t *Tunnel) writeFrame(ctx context.Context, messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	return t.conn.WriteMessage(ctx, messageType, data)
}

// Recv returns the payload of the next binary frame. Text frames are a protocol error.
func (t *Tunnel) Recv(ctx context.Context) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	mt, data, err := t.conn.ReadMessage(ctx)
	if err != nil {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		if kind, ok := fserrors.ClassifyTunnelCloseKind(err); ok {
			return nil, fserrors.Wrap(fserrors.StageTunnel, kind, err)
		}
		return nil, fserrors.Wrap(fserrors.StageTunnel, fserrors.ClassifyConnectKind(err), err)
	}
	if mt != websocket.BinaryMessage {
		return nil, fserrors.Wrap(fserrors.StageTunnel, fserrors.KindHandshake, errors.New("tunnel: unexpected non-binary frame"))
	}
	return data, nil
}

// PingLoop sends a ping frame every PingInterval until ctx is canceled, failing with
// TunnelTimeoutError if no pong arrives within PongWait of the last one.
func (t *Tunnel) PingLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, t.opts.PingInterval)
			err := t.writeFrame(writeCtx, websocket.PingMessage, nil)
			cancel()
			if err != nil {
				if t.closed.Load() {
					return ErrClosed
				}
				return fserrors.Wrap(fserrors.StageTunnel, fserrors.KindTunnelTimeout, err)
			}
			last := time.Unix(0, t.lastPong.Load())
			if time.Since(last) > t.opts.PongWait {
				return fserrors.Wrap(fserrors.StageTunnel, fserrors.KindTunnelTimeout, errors.New("tunnel: pong deadline exceeded"))
			}
		}
	}
}

// Close sends a close frame with code/reason, then closes the underlying socket. Send/Recv
// return ErrClosed for any caller still using the tunnel after Close returns.
func (t *Tunnel) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.CloseWithStatus(code, reason)
	})
	return err
}
