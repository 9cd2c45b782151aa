package storage

import (
	"database/sql"
	"fmt"
	"strings"

	// Drivers are registered by the importing binary; both are linked here so
	// either DSN form works out of the box.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on a relational database with a single documents
// table. Postgres backs multi-node deployments; sqlite backs single-node and
// test setups over the same code path.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

// OpenSQLStore connects to the database named by driver ("postgres" or
// "sqlite3") and ensures the documents table exists.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLStore{db: db, postgres: driver == "postgres"}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	return store, nil
}

// NewSQLStore wraps an existing connection; used by tests with sqlmock.
func NewSQLStore(db *sql.DB, postgres bool) *SQLStore {
	return &SQLStore{db: db, postgres: postgres}
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements Store.Get.
func (s *SQLStore) Get(collection, id string) ([]byte, error) {
	query := s.rebind(`SELECT body FROM documents WHERE collection = ? AND id = ?`)

	var body string
	err := s.db.QueryRow(query, collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return []byte(body), nil
}

// List implements Store.List.
func (s *SQLStore) List(collection string) ([][]byte, error) {
	query := s.rebind(`SELECT body FROM documents WHERE collection = ? ORDER BY id`)

	rows, err := s.db.Query(query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, []byte(body))
	}
	return docs, rows.Err()
}

// Add implements Store.Add. The primary key doubles as the uniqueness
// constraint, so concurrent duplicate adds are serialized by the database.
func (s *SQLStore) Add(collection, id string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	var query string
	if s.postgres {
		query = s.rebind(`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`)
	} else {
		query = `INSERT OR IGNORE INTO documents (collection, id, body) VALUES (?, ?, ?)`
	}

	result, err := s.db.Exec(query, collection, id, string(data))
	if err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	return nil
}

// Update implements Store.Update.
func (s *SQLStore) Update(collection, id string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	query := s.rebind(`UPDATE documents SET body = ? WHERE collection = ? AND id = ?`)
	result, err := s.db.Exec(query, string(data), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Remove implements Store.Remove.
func (s *SQLStore) Remove(collection, id string) error {
	query := s.rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`)
	result, err := s.db.Exec(query, collection, id)
	if err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Close implements Store.Close.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *SQLStore) Ping() error {
	return s.db.Ping()
}
