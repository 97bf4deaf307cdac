package client

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	// SQL drivers register themselves with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// sqlClient serves the three SQL dialects through database/sql. The query
// text is a prepared-statement template and is never interpolated; only the
// params list passes through the interpolation engine.
type sqlClient struct {
	id      string
	dialect string
	db      *sql.DB
	timeout time.Duration
	log     logger.Logger
}

func newSQLClient(id string, cfg *config.ClientConfig, log logger.Logger) (Client, error) {
	driver, dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)

	return &sqlClient{
		id:      id,
		dialect: cfg.Type,
		db:      db,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

// driverDSN maps a client config onto a database/sql driver name and DSN.
func driverDSN(cfg *config.ClientConfig) (string, string, error) {
	switch cfg.Type {
	case config.ClientPostgres:
		// pgx accepts postgres:// URLs directly.
		return "pgx", cfg.ConnString, nil
	case config.ClientMySQL:
		dsn, err := mysqlDSN(cfg.ConnString)
		return "mysql", dsn, err
	case config.ClientSQLite:
		return "sqlite3", sqlitePath(cfg), nil
	default:
		return "", "", fmt.Errorf("not a SQL client type: %s", cfg.Type)
	}
}

// mysqlDSN converts a mysql:// URL into the go-sql-driver DSN form
// user:pass@tcp(host:port)/db.
func mysqlDSN(conn string) (string, error) {
	if !strings.Contains(conn, "://") {
		return conn, nil // already in driver DSN form
	}
	u, err := url.Parse(conn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql connection string: %w", err)
	}

	var sb strings.Builder
	if u.User != nil {
		sb.WriteString(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			sb.WriteString(":")
			sb.WriteString(pass)
		}
		sb.WriteString("@")
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":3306"
	}
	fmt.Fprintf(&sb, "tcp(%s)", host)
	sb.WriteString("/")
	sb.WriteString(strings.TrimPrefix(u.Path, "/"))
	if u.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(u.RawQuery)
	}
	return sb.String(), nil
}

// sqlitePath resolves the database location: the path field, a sqlite://
// connection string, or sqlite::memory:.
func sqlitePath(cfg *config.ClientConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	conn := cfg.ConnString
	if conn == "sqlite::memory:" {
		return ":memory:"
	}
	return strings.TrimPrefix(conn, "sqlite://")
}

func (c *sqlClient) Execute(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	args := make([]any, len(sub.Params))
	for i, p := range sub.Params {
		v, err := ictx.Eval(p)
		if err != nil {
			return nil, err
		}
		args[i] = bindArg(v)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Debug("sql subrequest", "client_id", c.id, "dialect", c.dialect, "params", len(args))

	rows, err := c.db.QueryContext(callCtx, sub.Query, args...)
	if err != nil {
		return nil, wrap(c.id, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, wrap(c.id, err)
	}

	return baseResult(c.id, "sql").
		Set("rows", result).
		Set("row_count", value.Integer(len(result))), nil
}

func (c *sqlClient) Close() error { return c.db.Close() }

// bindArg converts an interpolated Value to a driver argument. Trees are
// bound as JSON text.
func bindArg(v value.Value) any {
	switch t := v.(type) {
	case nil, value.Null:
		return nil
	case value.Bool:
		return bool(t)
	case value.Integer:
		return int64(t)
	case value.Float:
		return float64(t)
	case value.String:
		return string(t)
	default:
		return value.EncodeString(v)
	}
}

// scanRows converts a result set into an array of objects keyed by column
// name in result order.
func scanRows(rows *sql.Rows) (value.Array, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	out := value.Array{}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := value.NewObject()
		for i, col := range cols {
			row.Set(col, cellValue(cells[i], types[i]))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// cellValue converts one scanned cell back into a Value. JSON columns are
// parsed into trees; everything else maps onto the scalar variants.
func cellValue(cell any, colType *sql.ColumnType) value.Value {
	isJSON := false
	if colType != nil {
		switch strings.ToUpper(colType.DatabaseTypeName()) {
		case "JSON", "JSONB":
			isJSON = true
		}
	}

	switch t := cell.(type) {
	case nil:
		return value.Null{}
	case bool:
		return value.Bool(t)
	case int64:
		return value.Integer(t)
	case float64:
		return value.Float(t)
	case []byte:
		if isJSON {
			if v, err := value.Decode(t); err == nil {
				return v
			}
		}
		return value.String(t)
	case string:
		if isJSON {
			if v, err := value.Decode([]byte(t)); err == nil {
				return v
			}
		}
		return value.String(t)
	case time.Time:
		return value.String(t.Format(time.RFC3339Nano))
	default:
		return value.FromAny(t)
	}
}
