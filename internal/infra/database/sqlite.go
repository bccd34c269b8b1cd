// Package database opens the experiment history store and applies its schema.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql schema_mysql.sql schema_postgres.sql
var schemaFS embed.FS

// InitializeSQLite opens (creating if needed) the SQLite database at
// dbPath and applies the schema. The pool holds a single connection.
func InitializeSQLite(ctx context.Context, dbPath string) (*sql.DB, error) {
	// 1. Create the directory
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// 2. Connect with WAL and foreign keys enabled
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(normal)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 3. Single connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// 4. Apply schema
	if err := ApplySchema(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}

	// 5. Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// ApplySchema executes the dialect's schema one statement at a time, so
// that drivers without multi-statement support accept it.
func ApplySchema(ctx context.Context, db *sql.DB, d Dialect) error {
	schemaBytes, err := schemaFS.ReadFile(d.schemaFile())
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, stmt := range splitStatements(string(schemaBytes)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

// splitStatements splits a schema file on ";" at line ends and drops
// "--" comment lines.
func splitStatements(schema string) []string {
	var stmts []string
	var cur strings.Builder
	for _, line := range strings.Split(schema, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
