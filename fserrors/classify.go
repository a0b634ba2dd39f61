package fserrors

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// ClassifyHTTPStatusKind maps a cloud REST response status code to a stable Kind, following
// the login/device-lookup semantics: 401/403 are credential failures, 404 (or an empty result
// set) means the device was not found, and 5xx/other failures are transport errors.
func ClassifyHTTPStatusKind(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindTransport
	default:
		return KindTransport
	}
}

// ClassifyConnectKind maps a dial/connect-layer error to a stable Kind.
func ClassifyConnectKind(err error) Kind {
	return classifyContextKind(err, KindTransport)
}

// ClassifyAttachKind maps an attach-layer error to a stable Kind.
func ClassifyAttachKind(err error) Kind {
	return classifyContextKind(err, KindHandshake)
}

func classifyContextKind(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTunnelTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return fallback
	}
}

// ClassifyTunnelCloseKind maps a tunnel websocket close error to a stable Kind. The remote
// access endpoint on the cloud side closes with a policy-violation code and a short reason
// token when it rejects the attach (bad token, unknown device, already attached).
func ClassifyTunnelCloseKind(err error) (Kind, bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return "", false
	}
	switch ce.Code {
	case websocket.ClosePolicyViolation, websocket.CloseInvalidFramePayloadData:
		return KindHandshake, true
	case websocket.CloseTryAgainLater:
		return KindTransport, true
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return KindCanceled, true
	default:
		return "", false
	}
}
