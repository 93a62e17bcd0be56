package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/pkg/errors"
)

var entryColumns = []string{"collection", "idx", "id", "note", "nres", "embedding"}

// CollectionInfo summarises a stored collection without its vectors.
type CollectionInfo struct {
	Name      string
	DBID      string
	CreatedAt time.Time
	Model     common.ModelIdentity
	Dim       int
	Count     int
}

// DatabaseStore implements embedding.Store for pg:<collection> locations.
type DatabaseStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ embedding.Store = (*DatabaseStore)(nil)

// NewDatabaseStore wraps an open pool.
func NewDatabaseStore(pool *pgxpool.Pool, log logging.Logger) *DatabaseStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &DatabaseStore{pool: pool, logger: log}
}

// Ping checks that the pool can reach the server.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "postgres unreachable")
	}
	return nil
}

func collectionName(loc embedding.Location) (string, error) {
	if loc.Collection == "" {
		return "", errors.InvalidParam("postgres location has no collection name").WithDetail(loc.Name)
	}
	return loc.Collection, nil
}

// Load reads the whole collection in index order.
func (s *DatabaseStore) Load(ctx context.Context, loc embedding.Location) (*embedding.Database, error) {
	name, err := collectionName(loc)
	if err != nil {
		return nil, err
	}

	var (
		info  CollectionInfo
		dim   int32
		count int32
	)
	err = s.pool.QueryRow(ctx, `
		SELECT name, db_id, created_at, model_name, model_version, dim, entry_count
		FROM embedding_collections WHERE name = $1`, name).
		Scan(&info.Name, &info.DBID, &info.CreatedAt, &info.Model.Name, &info.Model.Version, &dim, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.DatabaseNotFound(loc.String())
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to read collection").WithDetail(loc.String())
	}

	db := &embedding.Database{
		Name:      loc.Name,
		DBID:      info.DBID,
		CreatedAt: info.CreatedAt.UTC(),
		Model:     info.Model,
		Dim:       int(dim),
		Entries:   make([]embedding.Entry, 0, count),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, note, nres, embedding
		FROM embedding_entries WHERE collection = $1 ORDER BY idx`, name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to query entries").WithDetail(loc.String())
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e    embedding.Entry
			nres int32
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.Note, &nres, &blob); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "failed to scan entry").WithDetail(loc.String())
		}
		vec, err := embedding.DecodeVector(blob, db.Dim)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseCorrupt, "entry "+e.ID).WithDetail(loc.String())
		}
		e.NRes = int(nres)
		e.Vector = vec
		db.Entries = append(db.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to read entries").WithDetail(loc.String())
	}
	if len(db.Entries) != int(count) {
		return nil, errors.Newf(errors.ErrCodeDatabaseCorrupt,
			"collection lists %d entries, found %d", count, len(db.Entries)).WithDetail(loc.String())
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}

	s.logger.Debug("Loaded postgres collection",
		logging.Database(loc.String()),
		logging.Int("entries", db.Len()),
	)
	return db, nil
}

// Save replaces the collection atomically. Entries are bulk-inserted with
// COPY.
func (s *DatabaseStore) Save(ctx context.Context, loc embedding.Location, db *embedding.Database) error {
	name, err := collectionName(loc)
	if err != nil {
		return err
	}
	if err := db.Validate(); err != nil {
		return err
	}

	rows := make([][]any, len(db.Entries))
	for i, e := range db.Entries {
		rows[i] = []any{name, int32(i), e.ID, e.Note, int32(e.NRes), embedding.EncodeVector(e.Vector)}
	}

	err = WithTransaction(ctx, s.pool, func(tx pgx.Tx, ctx context.Context) error {
		if _, err := tx.Exec(ctx, `DELETE FROM embedding_collections WHERE name = $1`, name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO embedding_collections
				(name, db_id, created_at, model_name, model_version, dim, entry_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			name, db.DBID, db.CreatedAt, db.Model.Name, db.Model.Version, int32(db.Dim), int32(len(rows))); err != nil {
			return err
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"embedding_entries"}, entryColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		if int(n) != len(rows) {
			return errors.Newf(errors.ErrCodeStorage, "copied %d of %d entries", n, len(rows))
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to save collection").WithDetail(loc.String())
	}

	s.logger.Info("Saved postgres collection",
		logging.Database(loc.String()),
		logging.Int("entries", len(rows)),
		logging.Model(db.Model.String()),
	)
	return nil
}

// Collections lists stored collections ordered by name.
func (s *DatabaseStore) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, db_id, created_at, model_name, model_version, dim, entry_count
		FROM embedding_collections ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to list collections")
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var (
			c          CollectionInfo
			dim, count int32
		)
		if err := rows.Scan(&c.Name, &c.DBID, &c.CreatedAt, &c.Model.Name, &c.Model.Version, &dim, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to scan collection")
		}
		c.Dim = int(dim)
		c.Count = int(count)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to list collections")
	}
	return out, nil
}
