// Package config defines the gateway's declarative configuration: backend
// clients and routes with their subrequest graphs. The YAML file is the sole
// source of behavior; this package loads it, applies defaults and validates
// every invariant the engine relies on at runtime.
package config

import (
	"time"

	"github.com/gantry/gantry/pkg/condition"
)

// Client type identifiers.
const (
	ClientHTTP     = "http"
	ClientPostgres = "postgres"
	ClientMySQL    = "mysql"
	ClientSQLite   = "sqlite"
	ClientMongoDB  = "mongodb"
	ClientRedis    = "redis"
)

// Execution modes for a route's subrequest list.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// Config is the root configuration document.
type Config struct {
	Server  Server                   `mapstructure:"server"`
	Log     Log                      `mapstructure:"log"`
	Clients map[string]*ClientConfig `mapstructure:"clients" validate:"required,min=1,dive"`
	Routes  []*Route                 `mapstructure:"routes" validate:"required,min=1,dive"`
}

// Server holds the listener settings. Host and port can be overridden by the
// HOST and PORT environment variables at bootstrap.
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Log holds logger settings.
type Log struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	Output string `mapstructure:"output"`
}

// ClientConfig selects and configures one backend client. Type decides which
// of the remaining fields apply; the validator enforces the per-type
// requirements.
type ClientConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=http postgres mysql sqlite mongodb redis"`

	// HTTP
	BaseURL        string            `mapstructure:"base_url"`
	DefaultHeaders map[string]string `mapstructure:"default_headers"`
	MinConns       int               `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns       int               `mapstructure:"max_conns" validate:"gte=0"`

	// SQL and the connection-string backends.
	ConnString string `mapstructure:"conn_string"`
	// Path is the SQLite database path (or ":memory:").
	Path string `mapstructure:"path"`

	// MongoDB
	Database string `mapstructure:"database"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// Route declares one gateway endpoint: a method and path pattern, the
// subrequests executed on match, and an optional response transform.
type Route struct {
	Method        string             `mapstructure:"method" validate:"required"`
	Path          string             `mapstructure:"path" validate:"required"`
	ExecutionMode string             `mapstructure:"execution_mode" validate:"omitempty,oneof=parallel sequential"`
	Subrequests   []*Subrequest      `mapstructure:"subrequests" validate:"dive"`
	Transform     *ResponseTransform `mapstructure:"response_transform"`
}

// Mode returns the effective execution mode; parallel is the default.
func (r *Route) Mode() string {
	if r.ExecutionMode == ModeSequential {
		return ModeSequential
	}
	return ModeParallel
}

// Subrequest declares one unit of backend work within a route. The payload
// fields in use depend on Type.
type Subrequest struct {
	Name     string `mapstructure:"name"`
	ClientID string `mapstructure:"client_id" validate:"required"`
	Type     string `mapstructure:"type" validate:"required,oneof=http postgres mysql sqlite mongodb redis"`

	// HTTP
	URI         string            `mapstructure:"uri"`
	Method      string            `mapstructure:"method"`
	Headers     map[string]string `mapstructure:"headers"`
	Body        string            `mapstructure:"body"`
	QueryParams map[string]string `mapstructure:"query_params"`

	// SQL
	Query  string   `mapstructure:"query"`
	Params []string `mapstructure:"params"`

	// MongoDB
	Collection string `mapstructure:"collection"`
	Filter     string `mapstructure:"filter"`
	Document   string `mapstructure:"document"`
	Update     string `mapstructure:"update"`
	Limit      int64  `mapstructure:"limit" validate:"gte=0"`

	// Redis
	Key        string `mapstructure:"key"`
	Value      string `mapstructure:"value"`
	Field      string `mapstructure:"field"`
	Expiration int    `mapstructure:"expiration" validate:"gte=0"`

	// Operation selects the Mongo or Redis operation variant.
	Operation string `mapstructure:"operation"`

	DependsOn []string        `mapstructure:"depends_on"`
	Condition *condition.Spec `mapstructure:"condition"`
}

// ResponseTransform shapes the aggregated result before it is written out.
// The stages apply in fixed order: filter, field mappings, include/exclude,
// template.
type ResponseTransform struct {
	Filter        string            `mapstructure:"filter"`
	FieldMappings map[string]string `mapstructure:"field_mappings"`
	IncludeFields []string          `mapstructure:"include_fields"`
	ExcludeFields []string          `mapstructure:"exclude_fields"`
	Template      string            `mapstructure:"template"`
}

// IsSQL reports whether a client or subrequest type is one of the SQL
// dialects.
func IsSQL(typ string) bool {
	return typ == ClientPostgres || typ == ClientMySQL || typ == ClientSQLite
}
