package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/pkg/errors"
)

// Entry is one stored embedding.
type Entry struct {
	ID     string
	Note   string
	NRes   int
	Vector []float32
}

// Database is an immutable collection of embeddings produced by one model.
type Database struct {
	Name      string
	DBID      string
	CreatedAt time.Time
	Model     common.ModelIdentity
	Dim       int
	Entries   []Entry
}

// NewDatabase starts an empty database with a fresh db_id.
func NewDatabase(name string, model common.ModelIdentity, dim int) *Database {
	return &Database{
		Name:      name,
		DBID:      uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Model:     model,
		Dim:       dim,
	}
}

// Len is the number of entries.
func (db *Database) Len() int { return len(db.Entries) }

// Add appends an embedding. Its model and dimension must match the
// database.
func (db *Database) Add(e *Embedding) error {
	if !e.Model.Equal(db.Model) {
		return errors.Newf(errors.ErrCodeModelMismatch,
			"embedding %s was produced by %s, database holds %s", e.ID, e.Model, db.Model)
	}
	if e.Dim() != db.Dim {
		return errors.Newf(errors.ErrCodeInvalidParam,
			"embedding %s has dimension %d, database expects %d", e.ID, e.Dim(), db.Dim)
	}
	db.Entries = append(db.Entries, Entry{ID: e.ID, Note: e.Note, NRes: e.NRes, Vector: e.Vector})
	return nil
}

// Validate checks the metadata and that every vector has dimension Dim.
func (db *Database) Validate() error {
	if db.Model.IsZero() {
		return errors.New(errors.ErrCodeDatabaseCorrupt, "database has no model identity").WithDetail(db.Name)
	}
	if db.Dim <= 0 {
		return errors.Newf(errors.ErrCodeDatabaseCorrupt, "database dimension %d", db.Dim).WithDetail(db.Name)
	}
	for i, e := range db.Entries {
		if len(e.Vector) != db.Dim {
			return errors.Newf(errors.ErrCodeDatabaseCorrupt,
				"entry %d (%s) has dimension %d, expected %d", i, e.ID, len(e.Vector), db.Dim).WithDetail(db.Name)
		}
	}
	return nil
}

// CheckCompatible verifies that embeddings of model with dimension dim can be
// searched against db. A model mismatch is an error unless allowMismatch is
// set, in which case it is logged. A dimension mismatch is always an error.
func (db *Database) CheckCompatible(model common.ModelIdentity, dim int, allowMismatch bool, logger logging.Logger) error {
	if dim != db.Dim {
		return errors.Newf(errors.ErrCodeModelMismatch,
			"query dimension %d does not match database dimension %d", dim, db.Dim).WithDetail(db.Name)
	}
	if model.Equal(db.Model) {
		return nil
	}
	if !allowMismatch {
		return errors.Newf(errors.ErrCodeModelMismatch,
			"database %s was built with %s, selected model is %s", db.Name, db.Model, model)
	}
	if logger != nil {
		logger.Warn("searching database built with a different model",
			logging.Database(db.Name), logging.String("database_model", db.Model.String()),
			logging.Model(model.String()))
	}
	return nil
}

func (db *Database) String() string {
	return fmt.Sprintf("%s (%d entries, %s, dim %d)", db.Name, len(db.Entries), db.Model, db.Dim)
}

// Store persists and loads databases at a resolved Location.
type Store interface {
	Load(ctx context.Context, loc Location) (*Database, error)
	Save(ctx context.Context, loc Location, db *Database) error
}
