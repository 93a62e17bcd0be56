package search

import (
	"context"
	"time"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
	"github.com/turtacn/progres-go/pkg/errors"
)

// EmbedInput builds a database from a structure list. Entries, when set,
// replace reading ListPath. Output is a file path, s3://bucket/key or
// pg:<collection>.
type EmbedInput struct {
	ListPath string
	Entries  []ListEntry
	Output   string
	Format   string
	Name     string
}

// EmbedResult summarises a written database.
type EmbedResult struct {
	Output  string        `json:"output"`
	DBID    string        `json:"db_id"`
	Model   string        `json:"model"`
	Dim     int           `json:"dim"`
	Entries int           `json:"entries"`
	Elapsed time.Duration `json:"-"`
}

// Embed embeds every list entry and writes one database. The first entry
// that fails aborts the whole operation so the output keeps a 1:1
// correspondence with the list.
func (s *serviceImpl) Embed(ctx context.Context, input *EmbedInput) (*EmbedResult, error) {
	start := time.Now()
	if input.Output == "" {
		return nil, errors.InvalidParam("no output target given")
	}
	loc, err := embedding.ParseLocation(input.Output)
	if err != nil {
		return nil, err
	}
	format, err := structure.ParseFormat(input.Format)
	if err != nil {
		return nil, err
	}
	listName := input.ListPath
	if listName == "" {
		listName = "<input>"
	}
	entries := input.Entries
	if entries == nil {
		if entries, err = ReadStructureList(input.ListPath); err != nil {
			return nil, err
		}
	}

	name := input.Name
	if name == "" {
		name = input.Output
	}
	db := embedding.NewDatabase(name, s.embedder.Identity(), s.embedder.Dim())
	writer := NewEmbeddingWriter(s.embedder, s.builder, s.logger)
	writer.Loader = s.loader
	if err := writer.Embed(ctx, db, entries, format, s.batchSize, listName, s.metrics); err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, loc, db); err != nil {
		return nil, err
	}
	prometheus.RecordEmbeddingsWritten(s.metrics, string(loc.Kind), db.Len())
	s.logger.Info("Wrote embedding database",
		logging.Database(loc.String()),
		logging.Int("entries", db.Len()),
		logging.Model(db.Model.String()),
		logging.Duration("elapsed", time.Since(start)),
	)
	return &EmbedResult{
		Output:  loc.String(),
		DBID:    db.DBID,
		Model:   db.Model.String(),
		Dim:     db.Dim,
		Entries: db.Len(),
		Elapsed: time.Since(start),
	}, nil
}

// EmbeddingWriter parses, embeds and appends list entries to a database.
type EmbeddingWriter struct {
	// Loader bounds how far compressed entries may expand.
	Loader structure.Loader

	embedder progres_gnn.Embedder
	builder  *progres_gnn.GraphBuilder
	logger   logging.Logger
}

func NewEmbeddingWriter(e progres_gnn.Embedder, b *progres_gnn.GraphBuilder, log logging.Logger) *EmbeddingWriter {
	return &EmbeddingWriter{embedder: e, builder: b, logger: log}
}

type pendingEntry struct {
	entry ListEntry
	graph *progres_gnn.StructureGraph
}

// Embed processes entries in batches of batchSize. Errors name the list line
// and path of the failing entry.
func (w *EmbeddingWriter) Embed(ctx context.Context, db *embedding.Database, entries []ListEntry,
	format structure.Format, batchSize int, listName string, metrics *prometheus.AppMetrics) error {
	total := len(entries)
	batch := make([]pendingEntry, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		graphs := make([]*progres_gnn.StructureGraph, len(batch))
		for i, p := range batch {
			graphs[i] = p.graph
		}
		embs, err := w.embedder.EmbedBatch(ctx, graphs)
		if err != nil {
			first := batch[0].entry
			return errors.Wrap(err, errors.CodeUnknown, "embedding batch failed").
				WithDetail("batch starting at " + first.Where(listName))
		}
		for i, e := range embs {
			e.ID = batch[i].entry.ID
			e.Note = batch[i].entry.Note
			if err := db.Add(e); err != nil {
				return errors.Wrap(err, errors.CodeUnknown, "adding embedding").WithDetail(batch[i].entry.Where(listName))
			}
		}
		w.logger.Info("processed "+progress(db.Len(), total), logging.Database(db.Name))
		batch = batch[:0]
		return nil
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeCanceled, "embedding interrupted").
				WithDetail("processed " + progress(db.Len(), total))
		}
		start := time.Now()
		st, err := w.Loader.Load(e.Path, format)
		prometheus.RecordParse(metrics, string(format), time.Since(start), err)
		if err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "cannot embed list entry").WithDetail(e.Where(listName))
		}
		g, err := w.builder.Build(st)
		if err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "cannot build graph for list entry").WithDetail(e.Where(listName))
		}
		batch = append(batch, pendingEntry{entry: e, graph: g})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
