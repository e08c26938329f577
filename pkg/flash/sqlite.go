//go:build !tinygo

package flash

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Ensure SQLite implements Engine.
var _ Engine = (*SQLite)(nil)

const createRecordsSQL = `CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL,
	rec_key INTEGER NOT NULL,
	data INTEGER NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0
);`

// SQLite is a storage engine backed by a SQLite file, used by the host
// simulator so that calibration and mode survive restarts. Completion events
// fire synchronously after each operation.
type SQLite struct {
	db       *sql.DB
	capacity int

	mu   sync.Mutex
	subs []func(Result)
}

// OpenSQLite opens (or creates) the engine at path. capacity bounds valid
// plus garbage records like a flash partition would.
func OpenSQLite(path string, capacity int) (*SQLite, error) {
	if capacity <= 0 {
		capacity = 256
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash database %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createRecordsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	return &SQLite{db: db, capacity: capacity}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Subscribe(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *SQLite) Find(fileID, key uint16, tok *FindToken) (Descriptor, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT id FROM records WHERE file_id = ? AND rec_key = ? AND deleted = 0 AND id > ? ORDER BY id LIMIT 1",
		fileID, key, tok.last,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Descriptor{}, ErrNotFound
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("find record: %w", err)
	}
	tok.last = uint32(id)
	return Descriptor{ID: uint32(id)}, nil
}

func (s *SQLite) Open(d Descriptor) (Record, error) {
	var r Record
	var data int64
	err := s.db.QueryRow(
		"SELECT file_id, rec_key, data FROM records WHERE id = ? AND deleted = 0", d.ID,
	).Scan(&r.FileID, &r.Key, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("open record: %w", err)
	}
	r.Data = uint32(data)
	return r, nil
}

func (s *SQLite) Write(r Record) error {
	return s.notify(OpWrite, r, s.write(r))
}

func (s *SQLite) Update(d Descriptor, r Record) error {
	return s.notify(OpUpdate, r, s.update(d, r))
}

func (s *SQLite) Delete(d Descriptor) error {
	err := s.markDeleted(s.db, d)
	return s.notify(OpDelete, Record{}, err)
}

func (s *SQLite) GC() error {
	_, err := s.db.Exec("DELETE FROM records WHERE deleted = 1")
	if err != nil {
		err = fmt.Errorf("gc: %w", err)
	}
	return s.notify(OpGC, Record{}, err)
}

func (s *SQLite) Stat() Stat {
	st := Stat{Capacity: s.capacity}
	row := s.db.QueryRow("SELECT COALESCE(SUM(deleted = 0), 0), COALESCE(SUM(deleted = 1), 0) FROM records")
	if err := row.Scan(&st.Valid, &st.Dirty); err != nil {
		return Stat{Capacity: s.capacity}
	}
	return st
}

func (s *SQLite) write(r Record) error {
	if err := s.checkSpace(); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT INTO records(file_id, rec_key, data) VALUES(?, ?, ?)", r.FileID, r.Key, int64(r.Data))
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *SQLite) update(d Descriptor, r Record) error {
	if err := s.checkSpace(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	if err := s.markDeleted(tx, d); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO records(file_id, rec_key, data) VALUES(?, ?, ?)", r.FileID, r.Key, int64(r.Data)); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *SQLite) markDeleted(db execer, d Descriptor) error {
	res, err := db.Exec("UPDATE records SET deleted = 1 WHERE id = ? AND deleted = 0", d.ID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) checkSpace() error {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if n >= s.capacity {
		return ErrNoSpace
	}
	return nil
}

func (s *SQLite) notify(op Op, r Record, err error) error {
	s.mu.Lock()
	subs := append([]func(Result){}, s.subs...)
	s.mu.Unlock()

	res := Result{Op: op, FileID: r.FileID, Key: r.Key, Err: err}
	for _, fn := range subs {
		fn(res)
	}
	return err
}
