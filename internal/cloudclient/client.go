// Package cloudclient is the minimal REST client the proxy engine uses to authenticate, look
// up a device by its external identifier, and obtain the remote-access tunnel URL for it.
package cloudclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c8ylp/c8ylp-go/fserrors"
	"github.com/c8ylp/c8ylp-go/internal/config"
	"github.com/c8ylp/c8ylp-go/internal/contextutil"
)

// Client talks to the cloud's REST API over HTTPS.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New builds a Client bound to creds.Host. The caller supplies an *http.Client so that TLS
// verification (SSLIgnoreVerify) and transport tuning stay the engine's responsibility.
func New(creds config.Credentials, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(creds.Host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, httpClient: httpClient}, nil
}

// Token is the opaque bearer obtained from Login, presented on subsequent REST calls and on
// the WebSocket upgrade.
type Token string

// Login exchanges credentials for a bearer token. It fails with KindAuth on bad credentials,
// KindTFARequired when the server demands a second factor, or KindTransport on network/HTTP
// 5xx failures.
func (c *Client) Login(ctx context.Context, creds config.Credentials) (Token, error) {
	if creds.Token != "" {
		return Token(creds.Token), nil
	}

	endpoint := c.resolve("/tenant/currentTenant")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fserrors.Wrap(fserrors.StageAuth, fserrors.KindAuth, err)
	}
	user := creds.User
	if creds.Tenant != "" {
		user = creds.Tenant + "/" + creds.User
	}
	req.SetBasicAuth(user, creds.Password)
	if creds.TFACode != "" {
		req.Header.Set("TFAToken", creds.TFACode)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fserrors.Wrap(fserrors.StageAuth, fserrors.KindTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// A basic-auth pair validated by the tenant lookup becomes the session's bearer; the
		// cloud's REST API accepts the same basic credentials on every subsequent call, so
		// there is no separate token to mint here.
		raw := user + ":" + creds.Password
		return Token("Basic " + base64.StdEncoding.EncodeToString([]byte(raw))), nil
	case http.StatusForbidden:
		var body loginErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if strings.Contains(body.Type, "tfaRequired") {
			return "", fserrors.Wrap(fserrors.StageAuth, fserrors.KindTFARequired, nil)
		}
		return "", fserrors.Wrap(fserrors.StageAuth, fserrors.KindAuth, httpStatusErr(resp.StatusCode))
	default:
		kind := fserrors.ClassifyHTTPStatusKind(resp.StatusCode)
		return "", fserrors.Wrap(fserrors.StageAuth, kind, httpStatusErr(resp.StatusCode))
	}
}

// loginErrorBody is the subset of a Cumulocity error response used to distinguish a plain
// auth failure from one asking for a second factor.
type loginErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// managedObject is the subset of a Cumulocity-style device representation this client needs.
type managedObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type managedObjectCollection struct {
	ManagedObjects []managedObject `json:"managedObjects"`
}

// ResolveDevice looks up a device's internal id by its external name. It fails with
// KindNotFound when no device matches and KindAmbiguous when more than one does.
func (c *Client) ResolveDevice(ctx context.Context, token Token, externalID string) (string, error) {
	endpoint := c.resolve("/inventory/managedObjects")
	q := endpoint.Query()
	q.Set("query", fmt.Sprintf("name eq '%s'", externalID))
	endpoint.RawQuery = q.Encode()

	var col managedObjectCollection
	if err := c.getJSON(ctx, token, endpoint, &col); err != nil {
		return "", err
	}
	switch len(col.ManagedObjects) {
	case 0:
		return "", fserrors.Wrap(fserrors.StageResolve, fserrors.KindNotFound, nil)
	case 1:
		return col.ManagedObjects[0].ID, nil
	default:
		return "", fserrors.Wrap(fserrors.StageResolve, fserrors.KindAmbiguous, nil)
	}
}

type remoteAccessConfig struct {
	Configurations []struct {
		Name string `json:"name"`
	} `json:"c8y_RemoteAccessList"`
}

// TunnelURL returns the WebSocket URL for internalID's remote-access configuration named
// configName. It fails with KindNotFound when no such configuration exists.
func (c *Client) TunnelURL(ctx context.Context, token Token, internalID, configName string) (string, error) {
	endpoint := c.resolve("/inventory/managedObjects/" + internalID)

	var mo remoteAccessConfig
	if err := c.getJSON(ctx, token, endpoint, &mo); err != nil {
		return "", err
	}
	found := false
	for _, cfg := range mo.Configurations {
		if cfg.Name == configName {
			found = true
			break
		}
	}
	if !found {
		return "", fserrors.Wrap(fserrors.StageResolve, fserrors.KindNotFound, nil)
	}

	wsURL := *c.baseURL
	wsURL.Scheme = wsScheme(c.baseURL.Scheme)
	wsURL.Path = "/service/remoteaccess/devices/" + internalID + "/configurations/" + configName
	return wsURL.String(), nil
}

func (c *Client) getJSON(ctx context.Context, token Token, endpoint *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fserrors.Wrap(fserrors.StageResolve, fserrors.KindTransport, err)
	}
	req.Header.Set("Authorization", string(token))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fserrors.Wrap(fserrors.StageResolve, fserrors.KindTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := fserrors.ClassifyHTTPStatusKind(resp.StatusCode)
		return fserrors.Wrap(fserrors.StageResolve, kind, httpStatusErr(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fserrors.Wrap(fserrors.StageResolve, fserrors.KindTransport, err)
	}
	return nil
}

func (c *Client) resolve(p string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	return &u
}

func wsScheme(httpScheme string) string {
	if httpScheme == "https" {
		return "wss"
	}
	return "ws"
}

func httpStatusErr(status int) error {
	return fmt.Errorf("unexpected HTTP status %d", status)
}

// WithLoginDeadline bounds ctx with the engine's configured login deadline, applied around
// the Login/ResolveDevice/TunnelURL sequence during the AUTH and RESOLVING states.
func WithLoginDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return contextutil.WithTimeout(ctx, d)
}
