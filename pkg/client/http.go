package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// httpClient issues HTTP subrequests through a pooled transport.
type httpClient struct {
	id       string
	baseURL  string
	defaults map[string]string
	hc       *http.Client
	timeout  time.Duration
	log      logger.Logger
}

func newHTTPClient(id string, cfg *config.ClientConfig, log logger.Logger) (Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxConns,
		MaxConnsPerHost:     cfg.MaxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	return &httpClient{
		id:       id,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		defaults: cfg.DefaultHeaders,
		hc:       &http.Client{Transport: transport},
		timeout:  cfg.Timeout,
		log:      log,
	}, nil
}

func (c *httpClient) Execute(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	uri, err := ictx.Render(sub.URI)
	if err != nil {
		return nil, err
	}
	target := c.baseURL + "/" + strings.TrimPrefix(uri, "/")

	var (
		bodyReader io.Reader
		bodyIsJSON bool
	)
	if sub.Body != "" {
		bodyVal, evalErr := ictx.Eval(sub.Body)
		if evalErr != nil {
			return nil, evalErr
		}
		if s, ok := bodyVal.(value.String); ok {
			bodyReader = strings.NewReader(string(s))
		} else {
			bodyReader = bytes.NewReader(value.Encode(bodyVal))
			bodyIsJSON = true
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, sub.Method, target, bodyReader)
	if err != nil {
		return nil, newError(KindProtocol, c.id, err)
	}

	// Client defaults first, then subrequest headers; http.Header.Set
	// canonicalizes names, so the override is case-insensitive.
	for k, v := range c.defaults {
		req.Header.Set(k, v)
	}
	for k, v := range sub.Headers {
		rendered, renderErr := ictx.Render(v)
		if renderErr != nil {
			return nil, renderErr
		}
		req.Header.Set(k, rendered)
	}
	if bodyIsJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if len(sub.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range sub.QueryParams {
			rendered, renderErr := ictx.Render(v)
			if renderErr != nil {
				return nil, renderErr
			}
			q.Set(k, rendered)
		}
		req.URL.RawQuery = q.Encode()
	}

	c.log.Debug("http subrequest", "client_id", c.id, "method", sub.Method, "url", target)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, wrap(c.id, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrap(c.id, err)
	}

	// Non-2xx statuses are data, not failures; callers gate on status.
	return baseResult(c.id, "http").
		Set("status", value.Integer(resp.StatusCode)).
		Set("body", decodeBody(resp.Header.Get("Content-Type"), raw)).
		Set("headers", headerObject(resp.Header)), nil
}

func (c *httpClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

// decodeBody parses the payload as JSON when the content type says so,
// otherwise keeps it as a string.
func decodeBody(contentType string, raw []byte) value.Value {
	if strings.HasPrefix(contentType, "application/json") && len(raw) > 0 {
		if v, err := value.Decode(raw); err == nil {
			return v
		}
	}
	return value.String(raw)
}

// headerObject flattens response headers into an object with lowercased
// names, first value wins.
func headerObject(h http.Header) *value.Object {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	// Deterministic field order for a map-backed header set.
	sort.Strings(keys)

	obj := value.NewObject()
	for _, k := range keys {
		if vs := h[k]; len(vs) > 0 {
			obj.Set(strings.ToLower(k), value.String(vs[0]))
		}
	}
	return obj
}
