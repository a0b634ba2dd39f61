package defaults

import "time"

const (
	// ConnectTimeout bounds dialing the cloud remote-access WebSocket endpoint.
	ConnectTimeout = 30 * time.Second
	// LoginTimeout bounds the REST login + device resolution round trip.
	LoginTimeout = 60 * time.Second
	// ShutdownGrace is how long the engine waits for an in-flight pump to drain before
	// forcing the tunnel and listener closed.
	ShutdownGrace = 5 * time.Second
	// ReconnectBackoffMin is the initial delay before the first reconnect attempt.
	ReconnectBackoffMin = 1 * time.Second
	// ReconnectBackoffMax caps the exponential backoff delay between reconnect attempts.
	ReconnectBackoffMax = 30 * time.Second
)
