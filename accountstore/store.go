// Package accountstore provides SQL-backed implementations of the
// ircd.AccountStore interface: a single accounts table with
// case-insensitive lookups by name, accessed only through parameterized
// statements.
package accountstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cooper/vulpia"
)

// dialect captures the handful of SQL differences between the two
// supported backends: placeholder syntax and the column type/collation
// spelling for a case-insensitive name column.
type dialect struct {
	name           string
	placeholder    func(n int) string
	createTableSQL string
}

var sqliteDialect = dialect{
	name: "sqlite",
	placeholder: func(n int) string {
		return "?"
	},
	createTableSQL: `CREATE TABLE IF NOT EXISTS accounts (
		id       INTEGER PRIMARY KEY,
		name     VARCHAR COLLATE NOCASE UNIQUE,
		password VARCHAR,
		encrypt  VARCHAR,
		created  UNSIGNED BIG INT,
		cserver  VARCHAR,
		csid     INTEGER,
		updated  UNSIGNED BIG INT,
		userver  VARCHAR,
		usid     INTEGER
	)`,
}

var postgresDialect = dialect{
	name: "postgres",
	placeholder: func(n int) string {
		return fmt.Sprintf("$%d", n)
	},
	createTableSQL: `CREATE TABLE IF NOT EXISTS accounts (
		id       INTEGER PRIMARY KEY,
		name     VARCHAR UNIQUE,
		password VARCHAR,
		encrypt  VARCHAR,
		created  BIGINT,
		cserver  VARCHAR,
		csid     INTEGER,
		updated  BIGINT,
		userver  VARCHAR,
		usid     INTEGER
	)`,
}

// Store is the shared implementation over *sql.DB; Sqlite and Postgres
// differ only in dialect and in how name lookups fold case (sqlite's
// COLLATE NOCASE column vs. an explicit LOWER() comparison for postgres,
// which has no case-insensitive VARCHAR collation by default).
type Store struct {
	db  *sql.DB
	dia dialect
}

// NextID implements ircd.AccountStore.
func (s *Store) NextID() (int, error) {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) + 1 FROM accounts`)
	var id int
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) nameFilter() string {
	if s.dia.name == "postgres" {
		return "LOWER(name) = LOWER(" + s.dia.placeholder(1) + ")"
	}
	return "name = " + s.dia.placeholder(1)
}

// ByName implements ircd.AccountStore with a case-insensitive lookup.
func (s *Store) ByName(name string) (*ircd.Account, bool, error) {
	query := `SELECT id, name, password, encrypt, created, cserver, csid, updated, userver, usid
		FROM accounts WHERE ` + s.nameFilter()

	row := s.db.QueryRow(query, name)
	var a ircd.Account
	var created, updated int64
	err := row.Scan(&a.ID, &a.Name, &a.Password, &a.Encrypt, &created, &a.CServer, &a.CSID, &updated, &a.UServer, &a.USID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	a.Created = time.Unix(created, 0).UTC()
	a.Updated = time.Unix(updated, 0).UTC()
	return &a, true, nil
}

// Insert implements ircd.AccountStore.
func (s *Store) Insert(a *ircd.Account) error {
	ph := s.dia.placeholder
	query := fmt.Sprintf(`INSERT INTO accounts
		(id, name, password, encrypt, created, cserver, csid, updated, userver, usid)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9), ph(10))
	_, err := s.db.Exec(query, a.ID, a.Name, a.Password, a.Encrypt,
		a.Created.Unix(), a.CServer, a.CSID, a.Updated.Unix(), a.UServer, a.USID)
	return err
}

// Update implements ircd.AccountStore.
func (s *Store) Update(a *ircd.Account) error {
	ph := s.dia.placeholder
	query := fmt.Sprintf(`UPDATE accounts SET password = %s, encrypt = %s, updated = %s, userver = %s, usid = %s
		WHERE id = %s`, ph(1), ph(2), ph(3), ph(4), ph(5), ph(6))
	_, err := s.db.Exec(query, a.Password, a.Encrypt, a.Updated.Unix(), a.UServer, a.USID, a.ID)
	return err
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(s.dia.createTableSQL)
	return err
}

var _ ircd.AccountStore = (*Store)(nil)
