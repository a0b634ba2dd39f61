package engine

import "github.com/c8ylp/c8ylp-go/fserrors"

// Exit codes returned by Run, matching the external interface's process contract.
const (
	ExitOK                 = 0
	ExitGeneric            = 1
	ExitBadInvocation      = 2
	ExitAuth               = 3
	ExitNotFound           = 4
	ExitTunnelClosedAttached = 5
	ExitBindFailure        = 6
)

// exitCodeFor maps a terminal error to the process exit code it produces. A nil err (clean
// shutdown) maps to ExitOK.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	kind, ok := fserrors.KindOf(err)
	if !ok {
		return ExitGeneric
	}
	switch kind {
	case fserrors.KindConfig:
		return ExitBadInvocation
	case fserrors.KindAuth, fserrors.KindTFARequired:
		return ExitAuth
	case fserrors.KindNotFound, fserrors.KindAmbiguous:
		return ExitNotFound
	case fserrors.KindBindFailure:
		return ExitBindFailure
	case fserrors.KindCanceled:
		return ExitOK
	default:
		return ExitGeneric
	}
}
