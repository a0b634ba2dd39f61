package engine

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/c8ylp/c8ylp-go/fserrors"
	"github.com/c8ylp/c8ylp-go/observability"
	"github.com/c8ylp/c8ylp-go/tunnel"
)

// pump moves bytes between one attached TCP connection and the open tunnel until either side
// errs or closes, then returns the first result observed. An orderly TCP-side close (io.EOF on
// the local connection) is reported as nil; a tunnel-side close or failure is returned as the
// tunnel's error.
//
// Two goroutines share ctx and report onto errc, grounded on the accept-loop/copy-pair shape
// used to bridge a single TCP connection to a remote byte stream. Canceling ctx (or either
// goroutine returning) unblocks the other by closing the TCP connection; the tunnel itself is
// owned by the caller and is not closed here.
func pump(ctx context.Context, conn net.Conn, tun *tunnel.Tunnel, maxFrame int, idleTimeout time.Duration, obs observability.SessionObserver) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)

	go func() { errc <- upstream(pumpCtx, conn, tun, maxFrame, idleTimeout, obs) }()
	go func() { errc <- downstream(pumpCtx, conn, tun, obs) }()

	first := <-errc
	cancel()
	_ = conn.Close()
	<-errc
	return first
}

// upstream reads from the local TCP client and forwards each chunk to the tunnel.
func upstream(ctx context.Context, conn net.Conn, tun *tunnel.Tunnel, maxFrame int, idleTimeout time.Duration, obs observability.SessionObserver) error {
	buf := make([]byte, maxFrame)
	for {
		if idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			obs.BytesTransferred(observability.DirectionUpstream, int64(n))
			if sendErr := tun.Send(ctx, buf[:n]); sendErr != nil {
				return fserrors.Wrap(fserrors.StagePump, fserrors.KindTransport, sendErr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fserrors.Wrap(fserrors.StagePump, fserrors.KindClient, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// downstream reads frames from the tunnel and writes each payload to the local TCP client.
func downstream(ctx context.Context, conn net.Conn, tun *tunnel.Tunnel, obs observability.SessionObserver) error {
	for {
		data, err := tun.Recv(ctx)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		if _, err := conn.Write(data); err != nil {
			return fserrors.Wrap(fserrors.StagePump, fserrors.KindClient, err)
		}
		obs.BytesTransferred(observability.DirectionDownstream, int64(len(data)))
	}
}
