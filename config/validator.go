package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gantry/gantry/pkg/condition"
)

// validate is the shared validator instance for struct-level tags.
var validate = validator.New()

// ValidationError describes one configuration defect.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every defect found in a config document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Validate checks the full configuration: struct tags first, then the
// semantic invariants the engine depends on (client references, type
// matching, dependency ordering, condition and pattern compilation).
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Field:   fe.Namespace(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
		} else {
			return err
		}
	}

	for id, client := range cfg.Clients {
		errs = append(errs, validateClient(id, client)...)
	}
	for i, route := range cfg.Routes {
		errs = append(errs, validateRoute(i, route, cfg.Clients)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateClient(id string, c *ClientConfig) ValidationErrors {
	var errs ValidationErrors
	where := fmt.Sprintf("clients.%s", id)

	fail := func(format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: where, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Type {
	case ClientHTTP:
		if c.BaseURL == "" {
			fail("http client requires base_url")
		}
		if c.MinConns > c.MaxConns {
			fail("min_conns (%d) exceeds max_conns (%d)", c.MinConns, c.MaxConns)
		}
	case ClientPostgres, ClientMySQL:
		if c.ConnString == "" {
			fail("%s client requires conn_string", c.Type)
		}
	case ClientSQLite:
		if c.ConnString == "" && c.Path == "" {
			fail("sqlite client requires path or conn_string")
		}
	case ClientMongoDB:
		if c.ConnString == "" {
			fail("mongodb client requires conn_string")
		}
		if c.Database == "" {
			fail("mongodb client requires database")
		}
	case ClientRedis:
		if c.ConnString == "" {
			fail("redis client requires conn_string")
		}
	}

	return errs
}

func validateRoute(idx int, route *Route, clients map[string]*ClientConfig) ValidationErrors {
	var errs ValidationErrors
	where := fmt.Sprintf("routes[%d] %s %s", idx, route.Method, route.Path)

	fail := func(format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: where, Message: fmt.Sprintf(format, args...)})
	}

	if !strings.HasPrefix(route.Path, "/") {
		fail("path must begin with '/'")
	}
	if err := checkPathPattern(route.Path); err != nil {
		fail("%v", err)
	}

	// Named subrequests seen so far; depends_on may only reference these.
	seen := map[string]bool{}

	for subIdx, sub := range route.Subrequests {
		label := sub.Name
		if label == "" {
			label = fmt.Sprintf("#%d", subIdx)
		}

		if sub.Name != "" && seen[sub.Name] {
			fail("duplicate subrequest name %q", sub.Name)
		}

		client, ok := clients[sub.ClientID]
		if !ok {
			fail("subrequest %s references unknown client_id %q", label, sub.ClientID)
		} else if client.Type != sub.Type {
			fail("subrequest %s has type %q but client %q is %q", label, sub.Type, sub.ClientID, client.Type)
		}

		for _, dep := range sub.DependsOn {
			if !seen[dep] {
				fail("subrequest %s depends on %q, which is not an earlier named subrequest", label, dep)
			}
		}

		errs = append(errs, validatePayload(where, label, sub)...)

		if _, err := condition.Compile(sub.Condition); err != nil {
			fail("subrequest %s: %v", label, err)
		}

		if sub.Name != "" {
			seen[sub.Name] = true
		}
	}

	if t := route.Transform; t != nil {
		if t.IncludeFields != nil && t.ExcludeFields != nil {
			fail("response_transform cannot set both include_fields and exclude_fields")
		}
	}

	return errs
}

func validatePayload(where, label string, sub *Subrequest) ValidationErrors {
	var errs ValidationErrors

	fail := func(format string, args ...interface{}) {
		errs = append(errs, ValidationError{
			Field:   where,
			Message: fmt.Sprintf("subrequest %s: ", label) + fmt.Sprintf(format, args...),
		})
	}

	switch {
	case sub.Type == ClientHTTP:
		if sub.URI == "" {
			fail("http subrequest requires uri")
		}
		switch sub.Method {
		case "", "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		default:
			fail("unsupported http method %q", sub.Method)
		}
	case IsSQL(sub.Type):
		if sub.Query == "" {
			fail("sql subrequest requires query")
		}
	case sub.Type == ClientMongoDB:
		if sub.Collection == "" {
			fail("mongodb subrequest requires collection")
		}
		switch sub.Operation {
		case "find", "findone", "delete":
			if sub.Filter == "" {
				fail("mongodb %s requires filter", sub.Operation)
			}
		case "insert":
			if sub.Document == "" {
				fail("mongodb insert requires document")
			}
		case "update":
			if sub.Filter == "" || sub.Update == "" {
				fail("mongodb update requires filter and update")
			}
		default:
			fail("unsupported mongodb operation %q", sub.Operation)
		}
	case sub.Type == ClientRedis:
		if sub.Key == "" {
			fail("redis subrequest requires key")
		}
		switch sub.Operation {
		case "get", "del", "exists":
		case "set":
			if sub.Value == "" {
				fail("redis set requires value")
			}
		case "hget":
			if sub.Field == "" {
				fail("redis hget requires field")
			}
		case "hset":
			if sub.Field == "" || sub.Value == "" {
				fail("redis hset requires field and value")
			}
		default:
			fail("unsupported redis operation %q", sub.Operation)
		}
	}

	return errs
}

// checkPathPattern verifies the route pattern grammar: literal segments,
// :name captures one segment, *name captures the remainder and must be last.
func checkPathPattern(pattern string) error {
	segments := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, ":"):
			if len(seg) == 1 {
				return fmt.Errorf("path parameter segment %d has no name", i)
			}
		case strings.HasPrefix(seg, "*"):
			if len(seg) == 1 {
				return fmt.Errorf("wildcard segment %d has no name", i)
			}
			if i != len(segments)-1 {
				return fmt.Errorf("wildcard *%s must be the final segment", seg[1:])
			}
		}
	}
	return nil
}
