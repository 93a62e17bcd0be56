package search

import (
	"context"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/pkg/errors"
)

// StoreRouter dispatches database reads and writes by location kind. A nil
// backend means that kind is not configured.
type StoreRouter struct {
	File     embedding.Store
	S3       embedding.Store
	Postgres embedding.Store
}

var _ embedding.Store = (*StoreRouter)(nil)

func (r *StoreRouter) backend(loc embedding.Location) (embedding.Store, error) {
	var s embedding.Store
	switch loc.Kind {
	case embedding.LocationFile, "":
		s = r.File
	case embedding.LocationS3:
		s = r.S3
	case embedding.LocationPostgres:
		s = r.Postgres
	}
	if s == nil {
		return nil, errors.Newf(errors.ErrCodeInvalidParam,
			"no storage backend configured for %s locations", loc.Kind).WithDetail(loc.String())
	}
	return s, nil
}

func (r *StoreRouter) Load(ctx context.Context, loc embedding.Location) (*embedding.Database, error) {
	s, err := r.backend(loc)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, loc)
}

func (r *StoreRouter) Save(ctx context.Context, loc embedding.Location, db *embedding.Database) error {
	s, err := r.backend(loc)
	if err != nil {
		return err
	}
	return s.Save(ctx, loc, db)
}
