package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// redisClient executes key-value subrequests. Keys, values and hash fields
// are interpolated; non-string values are stored as JSON.
type redisClient struct {
	id      string
	rdb     *redis.Client
	timeout time.Duration
	log     logger.Logger
}

func newRedisClient(id string, cfg *config.ClientConfig, log logger.Logger) (Client, error) {
	opts, err := redis.ParseURL(cfg.ConnString)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = cfg.MaxConns
	opts.MinIdleConns = cfg.MinConns

	return &redisClient{
		id:      id,
		rdb:     redis.NewClient(opts),
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

func (c *redisClient) Execute(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	key, err := ictx.Render(sub.Key)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Debug("redis subrequest", "client_id", c.id, "operation", sub.Operation, "key", key)

	result := baseResult(c.id, "redis")

	switch sub.Operation {
	case "get":
		got, getErr := c.rdb.Get(callCtx, key).Result()
		switch {
		case errors.Is(getErr, redis.Nil):
			result.Set("value", value.Null{})
		case getErr != nil:
			return nil, wrap(c.id, getErr)
		default:
			result.Set("value", value.String(got))
		}

	case "set":
		stored, evalErr := c.storedValue(sub.Value, ictx)
		if evalErr != nil {
			return nil, evalErr
		}
		expiration := time.Duration(sub.Expiration) * time.Second
		if setErr := c.rdb.Set(callCtx, key, stored, expiration).Err(); setErr != nil {
			return nil, wrap(c.id, setErr)
		}
		result.Set("value", value.String("OK"))

	case "del":
		deleted, delErr := c.rdb.Del(callCtx, key).Result()
		if delErr != nil {
			return nil, wrap(c.id, delErr)
		}
		result.Set("deleted", value.Integer(deleted))

	case "exists":
		n, existsErr := c.rdb.Exists(callCtx, key).Result()
		if existsErr != nil {
			return nil, wrap(c.id, existsErr)
		}
		result.Set("exists", value.Bool(n > 0))

	case "hget":
		field, fieldErr := ictx.Render(sub.Field)
		if fieldErr != nil {
			return nil, fieldErr
		}
		got, getErr := c.rdb.HGet(callCtx, key, field).Result()
		switch {
		case errors.Is(getErr, redis.Nil):
			result.Set("value", value.Null{})
		case getErr != nil:
			return nil, wrap(c.id, getErr)
		default:
			result.Set("value", value.String(got))
		}

	case "hset":
		field, fieldErr := ictx.Render(sub.Field)
		if fieldErr != nil {
			return nil, fieldErr
		}
		stored, evalErr := c.storedValue(sub.Value, ictx)
		if evalErr != nil {
			return nil, evalErr
		}
		if setErr := c.rdb.HSet(callCtx, key, field, stored).Err(); setErr != nil {
			return nil, wrap(c.id, setErr)
		}
		result.Set("value", value.String("OK"))

	default:
		return nil, newError(KindProtocol, c.id, fmt.Errorf("unsupported redis operation %q", sub.Operation))
	}

	return result, nil
}

func (c *redisClient) Close() error { return c.rdb.Close() }

// storedValue interpolates the value template; strings are stored verbatim,
// any other value as JSON.
func (c *redisClient) storedValue(template string, ictx *interp.Context) (string, error) {
	v, err := ictx.Eval(template)
	if err != nil {
		return "", err
	}
	if s, ok := v.(value.String); ok {
		return string(s), nil
	}
	return value.EncodeString(v), nil
}
