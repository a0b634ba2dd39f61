package cloudclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/c8ylp/c8ylp-go/fserrors"
	"github.com/c8ylp/c8ylp-go/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(config.Credentials{Host: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestLogin_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	tok, err := c.Login(context.Background(), config.Credentials{User: "bob", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok == "" {
		t.Fatal("expected a non-empty token")
	}
}

func TestLogin_PresetTokenSkipsRequest(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	tok, err := c.Login(context.Background(), config.Credentials{Token: "Bearer abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "Bearer abc" {
		t.Fatalf("expected preset token, got %q", tok)
	}
	if called {
		t.Fatal("expected Login to skip the network call when a token is preset")
	}
}

func TestLogin_Unauthorized(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Login(context.Background(), config.Credentials{User: "bob", Password: "wrong"})
	kind, ok := fserrors.KindOf(err)
	if !ok || kind != fserrors.KindAuth {
		t.Fatalf("expected KindAuth, got %v (ok=%v)", kind, ok)
	}
}

func TestLogin_TFARequired(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(loginErrorBody{Type: "tfaRequired", Message: "second factor required"})
	})
	_, err := c.Login(context.Background(), config.Credentials{User: "bob", Password: "secret"})
	kind, ok := fserrors.KindOf(err)
	if !ok || kind != fserrors.KindTFARequired {
		t.Fatalf("expected KindTFARequired, got %v (ok=%v)", kind, ok)
	}
}

func TestLogin_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Login(context.Background(), config.Credentials{User: "bob", Password: "secret"})
	kind, ok := fserrors.KindOf(err)
	if !ok || kind != fserrors.KindTransport {
		t.Fatalf("expected KindTransport, got %v (ok=%v)", kind, ok)
	}
}

func TestResolveDevice_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(managedObjectCollection{})
	})
	_, err := c.ResolveDevice(context.Background(), "tok", "missing-device")
	kind, ok := fserrors.KindOf(err)
	if !ok || kind != fserrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v (ok=%v)", kind, ok)
	}
}

func TestResolveDevice_Ambiguous(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(managedObjectCollection{
			ManagedObjects: []managedObject{{ID: "1", Name: "dup"}, {ID: "2", Name: "dup"}},
		})
	})
	_, err := c.ResolveDevice(context.Background(), "tok", "dup")
	kind, ok := fserrors.KindOf(err)
	if !ok || kind != fserrors.KindAmbiguous {
		t.Fatalf("expected KindAmbiguous, got %v (ok=%v)", kind, ok)
	}
}

func TestResolveDevice_Found(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(managedObjectCollection{
			ManagedObjects: []managedObject{{ID: "42", Name: "mydevice"}},
		})
	})
	id, err := c.ResolveDevice(context.Background(), "tok", "mydevice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "42" {
		t.Fatalf("expected id 42, got %q", id)
	}
}

func TestTunnelURL_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteAccessConfig{})
	})
	_, err := c.TunnelURL(context.Background(), "tok", "42", "ssh")
	kind, ok := fserrors.KindOf(err)
	if !ok || kind != fserrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v (ok=%v)", kind, ok)
	}
}

func TestTunnelURL_Found(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := remoteAccessConfig{}
		resp.Configurations = []struct {
			Name string `json:"name"`
		}{{Name: "ssh"}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	u, err := c.TunnelURL(context.Background(), "tok", "42", "ssh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantPrefix := "ws://" + srv.Listener.Addr().String()
	if len(u) < len(wantPrefix) || u[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("expected ws URL with prefix %q, got %q", wantPrefix, u)
	}
}
