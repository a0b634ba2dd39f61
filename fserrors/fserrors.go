package fserrors

import "fmt"

// Stage identifies which step of the session lifecycle failed.
type Stage string

const (
	StageConfig  Stage = "config"
	StageAuth    Stage = "auth"
	StageResolve Stage = "resolve"
	StageConnect Stage = "connect"
	StageTunnel  Stage = "tunnel"
	StageAttach  Stage = "attach"
	StagePump    Stage = "pump"
	StageListen  Stage = "listen"
	StageClose   Stage = "close"
)

// Kind is a stable, programmatic error identifier. The CLI maps each Kind to an exit code,
// and tests assert on Kind, never on error strings.
type Kind string

const (
	KindConfig             Kind = "config_error"
	KindAuth               Kind = "auth_error"
	KindTFARequired        Kind = "tfa_required"
	KindNotFound           Kind = "not_found"
	KindAmbiguous          Kind = "ambiguous"
	KindTransport          Kind = "transport_error"
	KindHandshake          Kind = "handshake_error"
	KindTunnelTimeout      Kind = "tunnel_timeout"
	KindClient             Kind = "client_error"
	KindCanceled           Kind = "canceled"
	KindBindFailure        Kind = "bind_failure"
	KindReconnectsExceeded Kind = "reconnects_exceeded"
)

// Error is a structured, programmatically identifiable error for user-facing operations.
type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a tagged *Error. err may be nil when the failure has no underlying cause,
// e.g. a missing required field.
func Wrap(stage Stage, kind Kind, err error) error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// As extracts the *Error from err, if any, following the Unwrap chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			return fe, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	fe, ok := As(err)
	if !ok {
		return "", false
	}
	return fe.Kind, true
}
