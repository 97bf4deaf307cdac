package gateway

import (
	"io"
	"net/http"
	"strings"

	"github.com/gantry/gantry/pkg/engine"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/transform"
	"github.com/gantry/gantry/pkg/value"
)

// Handler dispatches requests against the route table. It implements
// http.Handler and is mounted behind the server's middleware chain.
type Handler struct {
	table     *Table
	scheduler *engine.Scheduler
	log       logger.Logger
}

// NewHandler creates the dispatching handler.
func NewHandler(table *Table, scheduler *engine.Scheduler, log logger.Logger) *Handler {
	return &Handler{table: table, scheduler: scheduler, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, params, pathMatched := h.table.Match(r.Method, r.URL.Path)
	if route == nil {
		if pathMatched {
			writeMethodNotAllowed(w)
			return
		}
		writeNotFound(w)
		return
	}

	ictx, err := buildContext(r, params)
	if err != nil {
		status, env := envelopeFor(err)
		writeEnvelope(w, status, env)
		return
	}

	h.log.DebugContext(r.Context(), "dispatching route",
		"method", r.Method,
		"path", r.URL.Path,
		"subrequests", len(route.Spec.Subrequests),
		"mode", route.Spec.Mode(),
	)

	aggregate, err := h.scheduler.Run(r.Context(), route, ictx)
	if err != nil {
		status, env := envelopeFor(err)
		h.log.ErrorContext(r.Context(), "route execution failed",
			"method", r.Method, "path", r.URL.Path, "kind", env.Kind, "error", env.Error)
		writeEnvelope(w, status, env)
		return
	}

	var body value.Value
	if route.Spec.Transform != nil {
		body, err = transform.Apply(aggregate.TransformInput(), route.Spec.Transform, ictx)
		if err != nil {
			status, env := envelopeFor(err)
			writeEnvelope(w, status, env)
			return
		}
	} else {
		body = aggregate.Body()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value.Encode(body))
}

// buildContext assembles the frozen request context: method, path params,
// query params and headers (last wins on duplicates, header names
// lowercased), and the body parsed as JSON when the content type says so.
func buildContext(r *http.Request, params map[string]string) (*interp.Context, error) {
	ictx := interp.NewContext(r.Method)
	ictx.PathParams = params

	for name, vs := range r.URL.Query() {
		if len(vs) > 0 {
			ictx.QueryParams[name] = vs[len(vs)-1]
		}
	}

	for name, vs := range r.Header {
		if len(vs) > 0 {
			ictx.Headers[strings.ToLower(name)] = vs[len(vs)-1]
		}
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/json") {
			parsed, decodeErr := value.Decode(raw)
			if decodeErr == nil {
				ictx.Body = parsed
				return ictx, nil
			}
			// Malformed JSON bodies stay raw rather than failing dispatch.
		}
		ictx.Body = value.String(raw)
	}

	return ictx, nil
}
