// Package sqlite stores embedding databases as single SQLite files with a
// meta(key, value) table and an entries(idx, id, note, nres, embedding)
// table.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/pkg/errors"
)

// FormatVersion is written to meta.format_version.
const FormatVersion = "1"

//go:embed schema/001_init.sql
var schemaFS embed.FS

// Store reads and writes database files.
type Store struct{}

func NewStore() *Store { return &Store{} }

var _ embedding.Store = (*Store)(nil)

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Load reads the database at loc.Path.
func (s *Store) Load(ctx context.Context, loc embedding.Location) (*embedding.Database, error) {
	return s.LoadFile(ctx, loc.Path, loc.Name)
}

// LoadFile reads the database file at path, naming it name.
func (s *Store) LoadFile(ctx context.Context, path, name string) (*embedding.Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.DatabaseNotFound(path).WithCause(err)
	}
	db, err := open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "opening database").WithDetail(path)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "reading database metadata").WithDetail(path)
	}
	out, err := databaseFromMeta(meta, name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "invalid database metadata").WithDetail(path)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, note, nres, embedding FROM entries ORDER BY idx`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "querying entries").WithDetail(path)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e    embedding.Entry
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.Note, &e.NRes, &blob); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "scanning entry").WithDetail(path)
		}
		if e.Vector, err = embedding.DecodeVector(blob, out.Dim); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "decoding entry "+e.ID).WithDetail(path)
		}
		out.Entries = append(out.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "reading entries").WithDetail(path)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// MetaFields renders the database header as meta rows. Postgres stores the
// same fields.
func MetaFields(db *embedding.Database) map[string]string {
	return map[string]string{
		"format_version": FormatVersion,
		"name":           db.Name,
		"db_id":          db.DBID,
		"created_at":     db.CreatedAt.UTC().Format(time.RFC3339Nano),
		"model_name":     db.Model.Name,
		"model_version":  db.Model.Version,
		"dim":            strconv.Itoa(db.Dim),
		"count":          strconv.Itoa(len(db.Entries)),
	}
}

func databaseFromMeta(meta map[string]string, name string) (*embedding.Database, error) {
	dim, err := strconv.Atoi(meta["dim"])
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeDatabaseCorrupt, "dim %q", meta["dim"])
	}
	created, err := time.Parse(time.RFC3339Nano, meta["created_at"])
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeDatabaseCorrupt, "created_at %q", meta["created_at"])
	}
	if name == "" {
		name = meta["name"]
	}
	return &embedding.Database{
		Name:      name,
		DBID:      meta["db_id"],
		CreatedAt: created,
		Model:     common.ModelIdentity{Name: meta["model_name"], Version: meta["model_version"]},
		Dim:       dim,
	}, nil
}

// Save writes db to loc.Path.
func (s *Store) Save(ctx context.Context, loc embedding.Location, db *embedding.Database) error {
	return s.SaveFile(ctx, loc.Path, db)
}

// SaveFile writes db to path. The file is built next to path and renamed
// into place, so readers never see a partial database.
func (s *Store) SaveFile(ctx context.Context, path string, db *embedding.Database) error {
	if err := db.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "creating output directory").WithDetail(dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "creating output file").WithDetail(path)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := writeFile(ctx, tmpPath, db); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "writing database").WithDetail(path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "moving database into place").WithDetail(path)
	}
	return nil
}

func writeFile(ctx context.Context, path string, db *embedding.Database) error {
	conn, err := open(path)
	if err != nil {
		return err
	}
	defer conn.Close()

	schema, err := schemaFS.ReadFile("schema/001_init.sql")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, string(schema)); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range MetaFields(db) {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (idx, id, note, nres, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range db.Entries {
		if _, err := stmt.ExecContext(ctx, i, e.ID, e.Note, e.NRes, embedding.EncodeVector(e.Vector)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return conn.Close()
}
