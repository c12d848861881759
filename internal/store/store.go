// Package store keeps compiled program files in a SQLite database.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"vmkit/internal/bytecode"
)

var log = commonlog.GetLogger("vmkit.store")

// ErrNotFound indicates no program is stored under the name.
var ErrNotFound = errors.New("program not found")

// Entry describes one stored program without its bytes.
type Entry struct {
	Name      string
	Digest    string
	Signature uint32
	Version   bytecode.SemVersion
	Size      int
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS programs (
		name       TEXT PRIMARY KEY,
		digest     TEXT NOT NULL,
		signature  INTEGER NOT NULL,
		major      INTEGER NOT NULL,
		minor      INTEGER NOT NULL,
		patch      INTEGER NOT NULL,
		data       BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened program store %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores a program file under name, replacing any earlier one. Only the
// header is checked; the file must still be loaded with the right codec.
func (s *Store) Put(ctx context.Context, name string, data []byte) (Entry, error) {
	hdr, err := bytecode.ParseHeader(data)
	if err != nil {
		return Entry{}, fmt.Errorf("storing %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	e := Entry{
		Name:      name,
		Digest:    hex.EncodeToString(sum[:]),
		Signature: hdr.Signature,
		Version:   hdr.Version,
		Size:      len(data),
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO programs (name, digest, signature, major, minor, patch, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.Digest, int64(e.Signature), e.Version.Major, e.Version.Minor, e.Version.Patch, data, e.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("storing %s: %w", name, err)
	}
	log.Debugf("stored %s (%d bytes, %s)", name, len(data), e.Digest[:12])
	return e, nil
}

// Get returns the stored file bytes.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM programs WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}
	return data, nil
}

// List returns every entry ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, digest, signature, major, minor, patch, length(data), created_at
		 FROM programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var sig int64
		if err := rows.Scan(&e.Name, &e.Digest, &sig, &e.Version.Major, &e.Version.Minor, &e.Version.Patch, &e.Size, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("listing programs: %w", err)
		}
		e.Signature = uint32(sig)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes name; deleting a missing program is ErrNotFound.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
