package accountstore

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (and migrates) an accounts table in a SQLite database
// at path, the default store for a single-process deployment.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite's single-writer model makes one open connection the
	// simplest correct choice here.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dia: sqliteDialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
