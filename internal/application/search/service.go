// Package search orchestrates structure search, pairwise scoring and
// database building on top of the structure, domain, graph and embedding
// packages.
package search

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/progres-go/internal/domain/domainsplit"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
	"github.com/turtacn/progres-go/pkg/errors"
)

// Service is the application entry point used by the CLI and HTTP layers.
type Service interface {
	Search(ctx context.Context, input *SearchInput) (*SearchResult, error)
	SearchList(ctx context.Context, input *ListSearchInput) (*ListSearchResult, error)
	Score(ctx context.Context, input *ScoreInput) (*ScoreResult, error)
	Embed(ctx context.Context, input *EmbedInput) (*EmbedResult, error)
	Databases() []DatabaseInfo
	Model() common.ModelIdentity
}

// ─────────────────────────────────────────────────────────────────────────────
// Inputs and results
// ─────────────────────────────────────────────────────────────────────────────

// Query is one structure to embed. Content, when set, is used instead of
// reading Path; Path then only names the structure and drives format
// guessing.
type Query struct {
	Path    string
	ID      string
	Note    string
	Content []byte
}

// SearchParams are shared by single and list searches.
type SearchParams struct {
	Database      string
	Format        string
	MinSimilarity float64
	MaxHits       int
	Split         bool
}

// SearchInput searches one query structure.
type SearchInput struct {
	Query Query
	SearchParams
}

// ListSearchInput searches every entry of a structure list. Entries, when
// set, replace reading ListPath.
type ListSearchInput struct {
	ListPath string
	Entries  []ListEntry
	SearchParams
}

// QueryResult holds the hits of one query or one domain of a query.
type QueryResult struct {
	QueryID     string          `json:"query_id"`
	QueryPath   string          `json:"query_path"`
	Note        string          `json:"note,omitempty"`
	Line        int             `json:"line,omitempty"`
	NRes        int             `json:"nres"`
	DomainIndex int             `json:"domain_index"`
	Chopping    string          `json:"chopping,omitempty"`
	Hits        []embedding.Hit `json:"hits"`
}

// SearchResult is the outcome of a single-structure search.
type SearchResult struct {
	Database string          `json:"database"`
	Model    string          `json:"model"`
	Results  []QueryResult   `json:"results"`
	Elapsed  time.Duration   `json:"-"`
	Cached   bool            `json:"cached"`
	Params   SearchParamsOut `json:"params"`
}

// SearchParamsOut echoes the effective search parameters.
type SearchParamsOut struct {
	MinSimilarity float64 `json:"min_similarity"`
	MaxHits       int     `json:"max_hits"`
	Split         bool    `json:"split"`
}

// SkippedEntry is a list entry that could not be parsed.
type SkippedEntry struct {
	Line  int    `json:"line"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ListSearchResult is the outcome of a structure-list search.
type ListSearchResult struct {
	Database string          `json:"database"`
	Model    string          `json:"model"`
	Results  []QueryResult   `json:"results"`
	Skipped  []SkippedEntry  `json:"skipped,omitempty"`
	Params   SearchParamsOut `json:"params"`
}

// ScoreInput compares two structures.
type ScoreInput struct {
	A      Query
	B      Query
	Format string
}

// ScoreResult is the Progres score of a pair.
type ScoreResult struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Model string  `json:"model"`
	Score float64 `json:"score"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Service implementation
// ─────────────────────────────────────────────────────────────────────────────

// EmbeddingCache caches query embeddings across calls.
type EmbeddingCache interface {
	// Key receives the splitter settings, or "" when the query is not split.
	Key(content []byte, model common.ModelIdentity, format, splitSettings string) string
	GetOrCompute(ctx context.Context, key string,
		compute func(ctx context.Context) ([]embedding.Embedding, error)) ([]embedding.Embedding, bool, error)
}

// Deps are the collaborators of the service. Embedder, Splitter, Databases
// and Store are required.
type Deps struct {
	Embedder           progres_gnn.Embedder
	Splitter           *domainsplit.FallbackSplitter
	Databases          *DatabaseCache
	Store              embedding.Store
	Cache              EmbeddingCache
	Metrics            *prometheus.AppMetrics
	Logger             logging.Logger
	BatchSize          int
	AllowModelMismatch bool
	Loader             structure.Loader
}

type serviceImpl struct {
	embedder      progres_gnn.Embedder
	builder       *progres_gnn.GraphBuilder
	splitter      *domainsplit.FallbackSplitter
	dbs           *DatabaseCache
	store         embedding.Store
	cache         EmbeddingCache
	metrics       *prometheus.AppMetrics
	logger        logging.Logger
	batchSize     int
	allowMismatch bool
	loader        structure.Loader
}

// NewService wires a Service. The graph builder is derived from the
// embedder's graph spec so graphs always match the loaded model.
func NewService(d Deps) (Service, error) {
	if d.Embedder == nil || d.Splitter == nil || d.Databases == nil || d.Store == nil {
		return nil, errors.Internal("search service requires embedder, splitter, databases and store")
	}
	builder, err := progres_gnn.NewGraphBuilder(d.Embedder.GraphSpec())
	if err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = prometheus.NewNopAppMetrics()
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 64
	}
	return &serviceImpl{
		embedder:      d.Embedder,
		builder:       builder,
		splitter:      d.Splitter,
		dbs:           d.Databases,
		store:         d.Store,
		cache:         d.Cache,
		metrics:       d.Metrics,
		logger:        d.Logger,
		batchSize:     d.BatchSize,
		allowMismatch: d.AllowModelMismatch,
		loader:        d.Loader,
	}, nil
}

func (s *serviceImpl) Model() common.ModelIdentity { return s.embedder.Identity() }

func (s *serviceImpl) Databases() []DatabaseInfo { return s.dbs.Loaded() }

// prepare validates parameters and loads the target database. Nothing is
// parsed before it succeeds.
func (s *serviceImpl) prepare(ctx context.Context, p SearchParams) (structure.Format, *embedding.Database, error) {
	if err := embedding.ValidateSearchParams(p.MinSimilarity, p.MaxHits); err != nil {
		return "", nil, err
	}
	format, err := structure.ParseFormat(p.Format)
	if err != nil {
		return "", nil, err
	}
	db, err := s.dbs.Get(ctx, p.Database)
	if err != nil {
		return "", nil, err
	}
	if err := db.CheckCompatible(s.embedder.Identity(), s.embedder.Dim(), s.allowMismatch, s.logger); err != nil {
		return "", nil, err
	}
	return format, db, nil
}

func (s *serviceImpl) Search(ctx context.Context, input *SearchInput) (*SearchResult, error) {
	start := time.Now()
	format, db, err := s.prepare(ctx, input.SearchParams)
	if err != nil {
		return nil, err
	}

	embs, cached, err := s.embedQuery(ctx, input.Query, format, input.Split)
	if err != nil {
		return nil, err
	}
	results, err := s.searchEmbeddings(input.Query, 0, embs, db, input.SearchParams)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Database: db.Name,
		Model:    s.embedder.Identity().String(),
		Results:  results,
		Elapsed:  time.Since(start),
		Cached:   cached,
		Params:   paramsOut(input.SearchParams),
	}, nil
}

func (s *serviceImpl) SearchList(ctx context.Context, input *ListSearchInput) (*ListSearchResult, error) {
	format, db, err := s.prepare(ctx, input.SearchParams)
	if err != nil {
		return nil, err
	}
	entries := input.Entries
	if entries == nil {
		if entries, err = ReadStructureList(input.ListPath); err != nil {
			return nil, err
		}
	}

	out := &ListSearchResult{
		Database: db.Name,
		Model:    s.embedder.Identity().String(),
		Params:   paramsOut(input.SearchParams),
	}
	total := len(entries)
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCanceled, "structure list search interrupted").
				WithDetail("processed " + progress(i, total))
		}
		q := Query{Path: e.Path, ID: e.ID, Note: e.Note}
		embs, _, err := s.embedQuery(ctx, q, format, input.Split)
		if err != nil {
			if !errors.IsParseError(err) {
				return nil, err
			}
			s.logger.Warn("Skipping unreadable structure",
				logging.Line(e.Line), logging.Path(e.Path), logging.Err(err))
			prometheus.RecordError(s.metrics, "search", string(errors.GetCode(err)))
			out.Skipped = append(out.Skipped, SkippedEntry{Line: e.Line, Path: e.Path, Error: err.Error()})
		} else {
			results, err := s.searchEmbeddings(q, e.Line, embs, db, input.SearchParams)
			if err != nil {
				return nil, err
			}
			out.Results = append(out.Results, results...)
		}
		s.logger.Info("processed "+progress(i+1, total), logging.Line(e.Line), logging.Path(e.Path))
	}
	return out, nil
}

func (s *serviceImpl) searchEmbeddings(q Query, line int, embs []embedding.Embedding, db *embedding.Database, p SearchParams) ([]QueryResult, error) {
	out := make([]QueryResult, 0, len(embs))
	for i := range embs {
		e := &embs[i]
		start := time.Now()
		hits, err := embedding.Search(e, db, p.MinSimilarity, p.MaxHits)
		prometheus.RecordSearch(s.metrics, db.Name, time.Since(start), len(hits), err)
		if err != nil {
			return nil, err
		}
		out = append(out, QueryResult{
			QueryID:     e.ID,
			QueryPath:   q.Path,
			Note:        q.Note,
			Line:        line,
			NRes:        e.NRes,
			DomainIndex: e.DomainIndex,
			Chopping:    e.Chopping,
			Hits:        hits,
		})
	}
	return out, nil
}

func (s *serviceImpl) Score(ctx context.Context, input *ScoreInput) (*ScoreResult, error) {
	format, err := structure.ParseFormat(input.Format)
	if err != nil {
		return nil, err
	}
	a, _, err := s.embedQuery(ctx, input.A, format, false)
	if err != nil {
		return nil, err
	}
	b, _, err := s.embedQuery(ctx, input.B, format, false)
	if err != nil {
		return nil, err
	}
	score, err := embedding.Score(&a[0], &b[0])
	if err != nil {
		return nil, err
	}
	return &ScoreResult{
		A:     a[0].ID,
		B:     b[0].ID,
		Model: s.embedder.Identity().String(),
		Score: score,
	}, nil
}

func paramsOut(p SearchParams) SearchParamsOut {
	return SearchParamsOut{MinSimilarity: p.MinSimilarity, MaxHits: p.MaxHits, Split: p.Split}
}

func progress(done, total int) string {
	return strconv.Itoa(done) + "/" + strconv.Itoa(total)
}

// queryID names a query by its ID or, failing that, its file base name
// without structure and compression extensions.
func queryID(q Query) string {
	if q.ID != "" {
		return q.ID
	}
	base := filepath.Base(q.Path)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, filepath.Ext(base))
}
