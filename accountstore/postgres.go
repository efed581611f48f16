package accountstore

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// OpenPostgres opens (and migrates) an accounts table against a Postgres
// database reachable at dsn, for a multi-process or clustered deployment
// where SQLite's single-writer model doesn't fit.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dia: postgresDialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
