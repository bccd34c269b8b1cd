package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
)

// Dialect identifies the SQL flavor of an open database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) schemaFile() string {
	switch d {
	case DialectMySQL:
		return "schema_mysql.sql"
	case DialectPostgres:
		return "schema_postgres.sql"
	default:
		return "schema.sql"
	}
}

// Rebind rewrites "?" placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Open opens the store selected by cfg and applies the schema. It
// returns a nil DB for the "none" driver.
func Open(ctx context.Context, cfg config.StorageConfig) (*sql.DB, Dialect, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, "", nil
	case "sqlite":
		db, err := InitializeSQLite(ctx, cfg.Path)
		return db, DialectSQLite, err
	case "mysql", "postgres":
	default:
		return nil, "", fmt.Errorf("%w: unknown storage driver: %s", config.ErrInvalidConfiguration, cfg.Driver)
	}

	d := Dialect(cfg.Driver)
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	if err := ApplySchema(ctx, db, d); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, d, nil
}
