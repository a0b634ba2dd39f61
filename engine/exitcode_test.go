package engine

import (
	"errors"
	"testing"

	"github.com/c8ylp/c8ylp-go/fserrors"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil is clean", nil, ExitOK},
		{"config error is bad invocation", fserrors.Wrap(fserrors.StageConfig, fserrors.KindConfig, errors.New("x")), ExitBadInvocation},
		{"auth error", fserrors.Wrap(fserrors.StageAuth, fserrors.KindAuth, errors.New("x")), ExitAuth},
		{"tfa required is auth", fserrors.Wrap(fserrors.StageAuth, fserrors.KindTFARequired, nil), ExitAuth},
		{"not found", fserrors.Wrap(fserrors.StageResolve, fserrors.KindNotFound, nil), ExitNotFound},
		{"ambiguous is not found", fserrors.Wrap(fserrors.StageResolve, fserrors.KindAmbiguous, nil), ExitNotFound},
		{"bind failure", fserrors.Wrap(fserrors.StageListen, fserrors.KindBindFailure, errors.New("x")), ExitBindFailure},
		{"canceled is clean", fserrors.Wrap(fserrors.StageTunnel, fserrors.KindCanceled, nil), ExitOK},
		{"untagged error is generic", errors.New("boom"), ExitGeneric},
		{"transport error is generic", fserrors.Wrap(fserrors.StageTunnel, fserrors.KindTransport, errors.New("x")), ExitGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
