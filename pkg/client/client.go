// Package client provides the backend client abstraction: a registry of
// initialized clients keyed by id, each exposing one uniform Execute
// operation over its protocol. Variants cover HTTP, the SQL dialects
// (PostgreSQL, MySQL, SQLite), MongoDB and Redis.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// Client executes one subrequest against its backend. Implementations
// interpolate the spec's payload fields against the context, enforce the
// configured per-call timeout, and normalize results into the uniform
// Value-typed result object.
type Client interface {
	// Execute runs the subrequest and returns its result object.
	Execute(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error)
	// Close releases pooled resources.
	Close() error
}

// Registry is the keyed collection of initialized clients. It is built once
// at startup and read-only afterwards.
type Registry struct {
	clients map[string]Client
}

// NewRegistry initializes a client for every configured id. Pools connect
// lazily; construction fails only on unusable configuration such as an
// unparseable connection string.
func NewRegistry(cfgs map[string]*config.ClientConfig, log logger.Logger) (*Registry, error) {
	reg := &Registry{clients: make(map[string]Client, len(cfgs))}

	for id, cfg := range cfgs {
		var (
			c   Client
			err error
		)
		switch cfg.Type {
		case config.ClientHTTP:
			c, err = newHTTPClient(id, cfg, log)
		case config.ClientPostgres, config.ClientMySQL, config.ClientSQLite:
			c, err = newSQLClient(id, cfg, log)
		case config.ClientMongoDB:
			c, err = newMongoClient(id, cfg, log)
		case config.ClientRedis:
			c, err = newRedisClient(id, cfg, log)
		default:
			err = fmt.Errorf("unknown client type %q", cfg.Type)
		}
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("client %s: %w", id, err)
		}
		reg.clients[id] = c
	}

	return reg, nil
}

// Get returns the client registered under id.
func (r *Registry) Get(id string) (Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int { return len(r.clients) }

// Close tears down every client pool.
func (r *Registry) Close() error {
	var errs []error
	for id, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing client %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// baseResult starts a result object with the uniform discriminator fields.
func baseResult(clientID, typ string) *value.Object {
	return value.NewObject().
		Set("client_id", value.String(clientID)).
		Set("type", value.String(typ))
}
