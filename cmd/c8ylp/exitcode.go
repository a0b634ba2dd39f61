package main

import (
	"github.com/c8ylp/c8ylp-go/engine"
	"github.com/c8ylp/c8ylp-go/fserrors"
)

// startupExitCode maps a failure from config.Load or cloudclient.New — both of which run
// before the engine's own state machine starts, so engine.Run never gets a chance to map them
// itself — to the same exit-code table engine.Run uses once it's running (§6/§7).
func startupExitCode(err error) int {
	if err == nil {
		return engine.ExitOK
	}
	kind, ok := fserrors.KindOf(err)
	if !ok {
		return engine.ExitGeneric
	}
	switch kind {
	case fserrors.KindConfig:
		return engine.ExitBadInvocation
	case fserrors.KindAuth, fserrors.KindTFARequired:
		return engine.ExitAuth
	case fserrors.KindNotFound, fserrors.KindAmbiguous:
		return engine.ExitNotFound
	case fserrors.KindBindFailure:
		return engine.ExitBindFailure
	default:
		return engine.ExitGeneric
	}
}
