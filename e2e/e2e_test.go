// Package e2e runs the proxy engine end to end against internal/mockcloud, covering the
// scenarios in spec.md §8.
package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c8ylp/c8ylp-go/engine"
	"github.com/c8ylp/c8ylp-go/internal/cloudclient"
	"github.com/c8ylp/c8ylp-go/internal/config"
	"github.com/c8ylp/c8ylp-go/internal/mockcloud"
	"github.com/c8ylp/c8ylp-go/lifecycle"
)

func baseConfig(t *testing.T, m *mockcloud.Server) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Credentials.Host = m.URL()
	cfg.Credentials.User = "user"
	cfg.Credentials.Password = "pass"
	cfg.Device = "test-device"
	cfg.Port = 0
	return cfg
}

func newEngine(t *testing.T, m *mockcloud.Server, cfg config.Config) (*engine.Engine, chan net.Addr) {
	t.Helper()
	cloud, err := cloudclient.New(config.Credentials{Host: m.URL()}, m.Client())
	if err != nil {
		t.Fatalf("cloudclient.New: %v", err)
	}
	eng := engine.New(cfg, cloud, nil, nil, lifecycle.New())
	addrCh := make(chan net.Addr, 1)
	eng.SetListeningHook(func(a net.Addr) { addrCh <- a })
	return eng, addrCh
}

// S1 Echo: connect a TCP client, send "hello\n", expect it back.
func TestS1Echo(t *testing.T) {
	m := mockcloud.New(mockcloud.DefaultConfig(), mockcloud.EchoHandler)
	defer m.Close()

	eng, addrCh := newEngine(t, m, baseConfig(t, m))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCh := make(chan int, 1)
	go func() { exitCh <- eng.Run(ctx) }()

	addr := waitAddr(t, addrCh)
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 6)
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello\n" {
		t.Fatalf("expected hello echo, got %q", buf)
	}
}

// S2 Auth failure: mock returns 401 on login; engine exits with code 3, no port bound.
func TestS2AuthFailure(t *testing.T) {
	cfg := mockcloud.DefaultConfig()
	cfg.RejectLogin = true
	m := mockcloud.New(cfg, mockcloud.EchoHandler)
	defer m.Close()

	eng, addrCh := newEngine(t, m, baseConfig(t, m))
	code := eng.Run(context.Background())
	if code != engine.ExitAuth {
		t.Fatalf("expected exit %d, got %d", engine.ExitAuth, code)
	}
	select {
	case <-addrCh:
		t.Fatal("listener should never have been bound")
	default:
	}
}

// S3 Device not found: login OK, identity lookup returns empty; exit code 4.
func TestS3DeviceNotFound(t *testing.T) {
	cfg := mockcloud.DefaultConfig()
	cfg.DeviceNotFound = true
	m := mockcloud.New(cfg, mockcloud.EchoHandler)
	defer m.Close()

	eng, _ := newEngine(t, m, baseConfig(t, m))
	code := eng.Run(context.Background())
	if code != engine.ExitNotFound {
		t.Fatalf("expected exit %d, got %d", engine.ExitNotFound, code)
	}
}

// S4 Idle reconnect: WS server closes after a short delay with no client attached; engine
// reconnects; a TCP client connecting afterward still succeeds.
func TestS4IdleReconnect(t *testing.T) {
	m := mockcloud.New(mockcloud.DefaultConfig(), nil)
	defer m.Close()
	m.SetTunnelHandler(func(c *websocket.Conn) {
		if m.DialCount() == 1 {
			c.Close()
			return
		}
		mockcloud.EchoHandler(c)
	})

	cfg := baseConfig(t, m)
	cfg.PingInterval = 30 * time.Millisecond
	eng, addrCh := newEngine(t, m, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCh := make(chan int, 1)
	go func() { exitCh <- eng.Run(ctx) }()

	addr := waitAddr(t, addrCh)

	deadline := time.Now().Add(3 * time.Second)
	for m.DialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if m.DialCount() < 2 {
		t.Fatal("engine never reconnected after the idle tunnel closed")
	}

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial after reconnect: %v", err)
	}
	conn.Close()
}

// S5 Attached failure: TCP client attached, WS server closes; engine exits with code 5.
func TestS5AttachedFailure(t *testing.T) {
	m := mockcloud.New(mockcloud.DefaultConfig(), nil)
	defer m.Close()
	closeAfter := make(chan struct{})
	m.SetTunnelHandler(func(c *websocket.Conn) {
		<-closeAfter
		c.Close()
	})

	eng, addrCh := newEngine(t, m, baseConfig(t, m))
	exitCh := make(chan int, 1)
	go func() { exitCh <- eng.Run(context.Background()) }()

	addr := waitAddr(t, addrCh)
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	close(closeAfter)

	select {
	case code := <-exitCh:
		if code != engine.ExitTunnelClosedAttached {
			t.Fatalf("expected exit %d, got %d", engine.ExitTunnelClosedAttached, code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not exit after tunnel closed while attached")
	}
}

// S6 Graceful stop: TCP client attached and idle; stopping the engine's lifecycle controller
// (the in-process equivalent of sending SIGTERM) closes both sockets within the shutdown
// grace period and exits 0.
func TestS6GracefulStop(t *testing.T) {
	m := mockcloud.New(mockcloud.DefaultConfig(), mockcloud.EchoHandler)
	defer m.Close()

	ctrl := lifecycle.New()
	cloud, err := cloudclient.New(config.Credentials{Host: m.URL()}, m.Client())
	if err != nil {
		t.Fatalf("cloudclient.New: %v", err)
	}
	eng := engine.New(baseConfig(t, m), cloud, nil, nil, ctrl)
	addrCh := make(chan net.Addr, 1)
	eng.SetListeningHook(func(a net.Addr) { addrCh <- a })

	exitCh := make(chan int, 1)
	go func() { exitCh <- eng.Run(context.Background()) }()

	addr := waitAddr(t, addrCh)
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	ctrl.Stop(nil)

	select {
	case code := <-exitCh:
		if code != engine.ExitOK {
			t.Fatalf("expected clean exit, got %d", code)
		}
		if time.Since(start) > 5*time.Second {
			t.Fatalf("shutdown took too long: %s", time.Since(start))
		}
	case <-time.After(6 * time.Second):
		t.Fatal("engine did not stop within the shutdown grace period")
	}
}

func waitAddr(t *testing.T, ch chan net.Addr) net.Addr {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("listener never bound")
		return nil
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
