package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gantry/gantry/pkg/client"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/transform"
)

// errorEnvelope is the serialized form of every runtime failure.
type errorEnvelope struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	ClientID   string `json:"client_id,omitempty"`
	Subrequest string `json:"subrequest,omitempty"`
}

// Taxonomy tags for the error envelope.
const (
	kindInterpolation    = "InterpolationError"
	kindTransform        = "TransformError"
	kindNotFound         = "NotFound"
	kindMethodNotAllowed = "MethodNotAllowed"
	kindInternal         = "Internal"
)

// envelopeFor maps a route execution failure onto an HTTP status and the
// error envelope: 400 for interpolation and transform errors, 502 for
// connect, protocol and backend subrequest failures, 504 for timeouts, 500
// otherwise (serialization failures included).
func envelopeFor(err error) (int, errorEnvelope) {
	var cerr *client.Error
	if errors.As(err, &cerr) {
		var status int
		switch cerr.Kind {
		case client.KindTimeout:
			status = http.StatusGatewayTimeout
		case client.KindSerialization:
			status = http.StatusInternalServerError
		default:
			status = http.StatusBadGateway
		}
		return status, errorEnvelope{
			Error:      cerr.Message,
			Kind:       cerr.Kind.String(),
			ClientID:   cerr.ClientID,
			Subrequest: cerr.Subrequest,
		}
	}

	var ierr *interp.Error
	if errors.As(err, &ierr) {
		return http.StatusBadRequest, errorEnvelope{Error: ierr.Error(), Kind: kindInterpolation}
	}

	var terr *transform.Error
	if errors.As(err, &terr) {
		return http.StatusBadRequest, errorEnvelope{Error: terr.Error(), Kind: kindTransform}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller went away; the route's work is discarded.
		return http.StatusGatewayTimeout, errorEnvelope{Error: err.Error(), Kind: client.KindTimeout.String()}
	}

	return http.StatusInternalServerError, errorEnvelope{Error: err.Error(), Kind: kindInternal}
}

func writeEnvelope(w http.ResponseWriter, status int, env errorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeNotFound(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusNotFound, errorEnvelope{Error: "no route matches the request", Kind: kindNotFound})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusMethodNotAllowed, errorEnvelope{Error: "method not allowed for this path", Kind: kindMethodNotAllowed})
}
