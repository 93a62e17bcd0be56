package search

import (
	"context"
	"os"
	"time"

	"github.com/turtacn/progres-go/internal/domain/domainsplit"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
	"github.com/turtacn/progres-go/pkg/errors"
)

// embedQuery returns one embedding per domain of q (one in total when split
// is false), consulting the embedding cache when configured. The boolean
// reports a cache hit.
func (s *serviceImpl) embedQuery(ctx context.Context, q Query, format structure.Format, split bool) ([]embedding.Embedding, bool, error) {
	if format == structure.FormatGuess || format == "" {
		f, err := structure.GuessFormat(q.Path)
		if err != nil {
			return nil, false, err
		}
		format = f
	}
	data := q.Content
	if data == nil {
		b, err := os.ReadFile(q.Path)
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrCodeParseFailed, "cannot read structure file").WithDetail(q.Path)
		}
		data = b
	}

	compute := func(ctx context.Context) ([]embedding.Embedding, error) {
		return s.computeEmbeddings(ctx, q.Path, data, format, split)
	}

	var (
		embs   []embedding.Embedding
		cached bool
		err    error
	)
	if s.cache != nil {
		settings := ""
		if split {
			settings = s.splitter.Settings()
		}
		key := s.cache.Key(data, s.embedder.Identity(), string(format), settings)
		embs, cached, err = s.cache.GetOrCompute(ctx, key, compute)
		prometheus.RecordCacheAccess(s.metrics, cached)
	} else {
		embs, err = compute(ctx)
	}
	if err != nil {
		return nil, false, err
	}

	out := make([]embedding.Embedding, len(embs))
	id := queryID(q)
	for i, e := range embs {
		e.ID = id
		e.Note = q.Note
		out[i] = e
	}
	return out, cached, nil
}

// computeEmbeddings parses data, optionally splits it into domains, and
// embeds every part in one batch.
func (s *serviceImpl) computeEmbeddings(ctx context.Context, name string, data []byte, format structure.Format, split bool) ([]embedding.Embedding, error) {
	start := time.Now()
	st, err := s.loader.LoadBytes(name, data, format)
	prometheus.RecordParse(s.metrics, string(format), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	parts := []*structure.Structure{st}
	domains := []domainsplit.Domain{domainsplit.Whole(st.Len())}
	if split {
		it, reason := s.splitter.Split(ctx, st)
		parts, domains = parts[:0], domains[:0]
		for it.Next() {
			parts = append(parts, it.Structure())
			domains = append(domains, it.Domain())
		}
		if err := it.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSegmentationFailed, "extracting domains").WithDetail(name)
		}
		prometheus.RecordSplit(s.metrics, s.splitter.Name(), it.Len(), reason)
		s.logger.Debug("Split query into domains",
			logging.Path(name),
			logging.Int("domains", it.Len()),
			logging.String("chopping", it.Chopping()),
			logging.String("fallback", reason),
		)
	}

	graphs := make([]*progres_gnn.StructureGraph, len(parts))
	for i, p := range parts {
		if graphs[i], err = s.builder.Build(p); err != nil {
			return nil, err
		}
	}
	embs, err := s.embedder.EmbedBatch(ctx, graphs)
	if err != nil {
		return nil, err
	}

	out := make([]embedding.Embedding, len(embs))
	for i, e := range embs {
		out[i] = *e
		out[i].DomainIndex = domains[i].Index
		if split {
			out[i].Chopping = domains[i].Chopping()
		}
	}
	return out, nil
}
