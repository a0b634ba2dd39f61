package main

import (
	"errors"
	"testing"

	"github.com/c8ylp/c8ylp-go/engine"
	"github.com/c8ylp/c8ylp-go/fserrors"
)

func TestStartupExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, engine.ExitOK},
		{"config", fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, nil), engine.ExitBadInvocation},
		{"auth", fserrors.Wrap(fserrors.StageAuth, fserrors.KindAuth, nil), engine.ExitAuth},
		{"tfa", fserrors.Wrap(fserrors.StageAuth, fserrors.KindTFARequired, nil), engine.ExitAuth},
		{"not found", fserrors.Wrap(fserrors.StageResolve, fserrors.KindNotFound, nil), engine.ExitNotFound},
		{"ambiguous", fserrors.Wrap(fserrors.StageResolve, fserrors.KindAmbiguous, nil), engine.ExitNotFound},
		{"bind failure", fserrors.Wrap(fserrors.StageListen, fserrors.KindBindFailure, nil), engine.ExitBindFailure},
		{"transport", fserrors.Wrap(fserrors.StageAuth, fserrors.KindTransport, nil), engine.ExitGeneric},
		{"unclassified", errors.New("boom"), engine.ExitGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := startupExitCode(tc.err); got != tc.want {
				t.Fatalf("startupExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestChildExitCode(t *testing.T) {
	if got := childExitCode(nil); got != engine.ExitOK {
		t.Fatalf("expected ExitOK for nil error, got %d", got)
	}
	if got := childExitCode(errors.New("not an exit error")); got != engine.ExitGeneric {
		t.Fatalf("expected ExitGeneric for an unrecognized error, got %d", got)
	}
}
