package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// OpenPostgres opens a PostgreSQL-backed store, for deployments where
// several processes share one database. dsn is a standard libpq connection
// string or URL.
func OpenPostgres(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, true)
}
