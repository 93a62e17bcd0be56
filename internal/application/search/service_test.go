package search_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/domain/domainsplit"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/storage/sqlite"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
	"github.com/turtacn/progres-go/internal/testutil"
	"github.com/turtacn/progres-go/pkg/errors"
)

// fixture is a service over a small random model with three query files and
// one database built from two of them.
type fixture struct {
	dir   string
	svc   search.Service
	log   *testutil.RecordingLogger
	model *progres_gnn.EGNNModel
	store *search.StoreRouter
	one   string
	two   string
	moved string
	db    string
}

type fixtureOption func(*search.Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	model, err := progres_gnn.LoadCheckpoint(ctx, testutil.WriteModel(t, dir, testutil.SmallModelConfig(), 11), common.CPU(2))
	require.NoError(t, err)

	f := &fixture{
		dir:   dir,
		log:   testutil.NewRecordingLogger(),
		model: model,
		store: &search.StoreRouter{File: sqlite.NewStore()},
	}
	f.one = testutil.WritePDB(t, dir, "one.pdb", testutil.SingleDomain("one.pdb"))
	f.two = testutil.WritePDB(t, dir, "two.pdb", testutil.TwoDomain("two.pdb"))
	f.moved = testutil.WritePDB(t, dir, "moved.pdb",
		testutil.Shifted(testutil.SingleDomain("moved.pdb"), structure.Vec3{12, -7, 3}))

	deps := search.Deps{
		Embedder:  model,
		Splitter:  domainsplit.NewFallbackSplitter(domainsplit.NewContactSegmenter(0, 0), 0, f.log),
		Databases: search.NewDatabaseCache(embedding.NewRegistry(dir), f.store, f.log, nil),
		Store:     f.store,
		Logger:    f.log,
		BatchSize: 2,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc, err = search.NewService(deps)
	require.NoError(t, err)

	f.db = filepath.Join(dir, "out", "pair.db")
	list := testutil.WriteList(t, dir, "db.txt",
		[]string{f.one, "entry_one", "a", "bundle"},
		[]string{f.two, "entry_two"},
	)
	res, err := f.svc.Embed(ctx, &search.EmbedInput{ListPath: list, Output: f.db, Name: "pair"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Entries)
	return f
}

func (f *fixture) params() search.SearchParams {
	return search.SearchParams{Database: f.db, MinSimilarity: 0, MaxHits: 10}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := search.NewService(search.Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}

func TestEmbed_WritesLoadableDatabase(t *testing.T) {
	f := newFixture(t)

	db, err := sqlite.NewStore().LoadFile(context.Background(), f.db, "pair")
	require.NoError(t, err)
	require.Equal(t, 2, db.Len())
	assert.Equal(t, "entry_one", db.Entries[0].ID)
	assert.Equal(t, "a bundle", db.Entries[0].Note)
	assert.Equal(t, 60, db.Entries[0].NRes)
	assert.Equal(t, "entry_two", db.Entries[1].ID)
	assert.Equal(t, 120, db.Entries[1].NRes)
	assert.True(t, db.Model.Equal(f.model.Identity()))
	assert.Equal(t, f.model.Dim(), db.Dim)
	assert.NotEmpty(t, db.DBID)
	assert.NotEmpty(t, f.log.Find("info", "Wrote embedding database"))
}

func TestEmbed_AbortsOnBadEntry(t *testing.T) {
	f := newFixture(t)
	bad := testutil.WriteFile(t, f.dir, "bad.pdb", "HEADER    NOTHING HERE\nEND\n")
	list := testutil.WriteList(t, f.dir, "bad.txt",
		[]string{f.one, "ok"},
		[]string{bad, "broken"},
	)
	out := filepath.Join(f.dir, "bad.db")

	_, err := f.svc.Embed(context.Background(), &search.EmbedInput{ListPath: list, Output: out})
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))
	assert.Contains(t, err.Error(), list+":2")
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEmbed_RequiresOutput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Embed(context.Background(), &search.EmbedInput{
		Entries: []search.ListEntry{{Line: 1, Path: f.one, ID: "x"}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestSearch_SelfHitRanksFirst(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Search(context.Background(), &search.SearchInput{
		Query:        search.Query{Path: f.one},
		SearchParams: f.params(),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	q := res.Results[0]
	assert.Equal(t, "one", q.QueryID)
	assert.Equal(t, 60, q.NRes)
	assert.Empty(t, q.Chopping)
	require.Len(t, q.Hits, 2)
	assert.Equal(t, "entry_one", q.Hits[0].ID)
	assert.Equal(t, 1, q.Hits[0].Rank)
	assert.Equal(t, 1.0, q.Hits[0].Score)
	assert.GreaterOrEqual(t, q.Hits[0].Score, q.Hits[1].Score)
	assert.Equal(t, f.db, res.Database)
	assert.Equal(t, f.model.Identity().String(), res.Model)
	assert.False(t, res.Cached)
}

func TestSearch_TranslatedQueryMatchesOriginal(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Search(context.Background(), &search.SearchInput{
		Query:        search.Query{Path: f.moved, ID: "moved"},
		SearchParams: f.params(),
	})
	require.NoError(t, err)
	hits := res.Results[0].Hits
	require.NotEmpty(t, hits)
	assert.Equal(t, "entry_one", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-3)
}

func TestSearch_ThresholdAndLimit(t *testing.T) {
	f := newFixture(t)
	p := f.params()
	p.MaxHits = 1

	res, err := f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.two}, SearchParams: p})
	require.NoError(t, err)
	require.Len(t, res.Results[0].Hits, 1)
	assert.Equal(t, "entry_two", res.Results[0].Hits[0].ID)

	p = f.params()
	p.MinSimilarity = 1
	res, err = f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.one}, SearchParams: p})
	require.NoError(t, err)
	for _, h := range res.Results[0].Hits {
		assert.Equal(t, 1.0, h.Score)
	}
}

func TestSearch_ValidatesBeforeParsing(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.dir, "missing.pdb")

	cases := []struct {
		name   string
		params search.SearchParams
		check  func(error) bool
	}{
		{"similarity above one", search.SearchParams{Database: f.db, MinSimilarity: 1.5, MaxHits: 1}, errors.IsConfigurationError},
		{"zero hits", search.SearchParams{Database: f.db, MaxHits: 0}, errors.IsConfigurationError},
		{"bad format", search.SearchParams{Database: f.db, MaxHits: 1, Format: "xyz"}, errors.IsParseError},
		{"unknown database", search.SearchParams{Database: "nope", MaxHits: 1}, errors.IsDatabaseNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Search(context.Background(), &search.SearchInput{
				Query:        search.Query{Path: missing},
				SearchParams: tc.params,
			})
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error %v", err)
		})
	}
}

func TestSearch_MissingQueryIsParseError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Search(context.Background(), &search.SearchInput{
		Query:        search.Query{Path: filepath.Join(f.dir, "missing.pdb")},
		SearchParams: f.params(),
	})
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))
}

func TestSearch_InlineContent(t *testing.T) {
	f := newFixture(t)
	data, err := os.ReadFile(f.one)
	require.NoError(t, err)

	res, err := f.svc.Search(context.Background(), &search.SearchInput{
		Query:        search.Query{Path: "upload.pdb", Content: data},
		SearchParams: f.params(),
	})
	require.NoError(t, err)
	assert.Equal(t, "upload", res.Results[0].QueryID)
	assert.Equal(t, "entry_one", res.Results[0].Hits[0].ID)
}

func TestSearch_SplitIntoDomains(t *testing.T) {
	f := newFixture(t)
	p := f.params()
	p.Split = true

	res, err := f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.two}, SearchParams: p})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	assert.Equal(t, 0, res.Results[0].DomainIndex)
	assert.Equal(t, "1-60", res.Results[0].Chopping)
	assert.Equal(t, 60, res.Results[0].NRes)
	assert.Equal(t, 1, res.Results[1].DomainIndex)
	assert.Equal(t, "61-120", res.Results[1].Chopping)
	assert.True(t, res.Params.Split)

	// A single-domain query keeps one result when split.
	res, err = f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.one}, SearchParams: p})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 60, res.Results[0].NRes)
}

func TestSearch_ModelMismatch(t *testing.T) {
	f := newFixture(t)
	other := embedding.NewDatabase("other", common.ModelIdentity{Name: "someone-else", Version: "9"}, f.model.Dim())
	require.NoError(t, other.Add(&embedding.Embedding{ID: "x", NRes: 10, Vector: make([]float32, f.model.Dim())}))
	path := filepath.Join(f.dir, "other.db")
	require.NoError(t, sqlite.NewStore().SaveFile(context.Background(), path, other))

	p := f.params()
	p.Database = path
	_, err := f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.one}, SearchParams: p})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelMismatch))

	lenient := newFixture(t, func(d *search.Deps) { d.AllowModelMismatch = true })
	path = filepath.Join(lenient.dir, "other.db")
	require.NoError(t, sqlite.NewStore().SaveFile(context.Background(), path, other))
	p = lenient.params()
	p.Database = path
	res, err := lenient.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: lenient.one}, SearchParams: p})
	require.NoError(t, err)
	assert.Len(t, res.Results[0].Hits, 1)
	assert.NotEmpty(t, lenient.log.Find("warn", "different model"))
}

func TestSearchList_SkipsUnreadableEntries(t *testing.T) {
	f := newFixture(t)
	bad := testutil.WriteFile(t, f.dir, "bad.pdb", "not a structure\n")
	list := testutil.WriteList(t, f.dir, "queries.txt",
		[]string{f.one, "q1", "first", "query"},
		[]string{bad, "q2"},
		[]string{f.two, "q3"},
	)

	res, err := f.svc.SearchList(context.Background(), &search.ListSearchInput{ListPath: list, SearchParams: f.params()})
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "q1", res.Results[0].QueryID)
	assert.Equal(t, "first query", res.Results[0].Note)
	assert.Equal(t, 1, res.Results[0].Line)
	assert.Equal(t, "q3", res.Results[1].QueryID)
	assert.Equal(t, 3, res.Results[1].Line)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].Line)
	assert.Equal(t, bad, res.Skipped[0].Path)

	warnings := f.log.Find("warn", "Skipping unreadable structure")
	require.Len(t, warnings, 1)
	assert.EqualValues(t, 2, warnings[0].Field("line"))
	// One progress line per query, after the single batch logged while building the database.
	assert.Len(t, f.log.Find("info", "processed "), 4)
}

func TestSearchList_InvalidList(t *testing.T) {
	f := newFixture(t)
	list := testutil.WriteFile(t, f.dir, "broken.txt", f.one+"\n")

	_, err := f.svc.SearchList(context.Background(), &search.ListSearchInput{ListPath: list, SearchParams: f.params()})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeListLineInvalid))
}

func TestSearchList_Canceled(t *testing.T) {
	f := newFixture(t)
	// Load the database first so cancellation is observed by the list loop.
	_, err := f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.one}, SearchParams: f.params()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.SearchList(ctx, &search.ListSearchInput{
		Entries:      []search.ListEntry{{Line: 1, Path: f.one, ID: "q"}},
		SearchParams: f.params(),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCanceled))
}

func TestScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	self, err := f.svc.Score(ctx, &search.ScoreInput{A: search.Query{Path: f.one}, B: search.Query{Path: f.one}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, self.Score)

	ab, err := f.svc.Score(ctx, &search.ScoreInput{A: search.Query{Path: f.one}, B: search.Query{Path: f.two}})
	require.NoError(t, err)
	ba, err := f.svc.Score(ctx, &search.ScoreInput{A: search.Query{Path: f.two}, B: search.Query{Path: f.one}})
	require.NoError(t, err)
	assert.InDelta(t, ab.Score, ba.Score, 1e-6)
	assert.GreaterOrEqual(t, ab.Score, 0.0)
	assert.LessOrEqual(t, ab.Score, 1.0)
	assert.Equal(t, "one", ab.A)
	assert.Equal(t, "two", ab.B)

	_, err = f.svc.Score(ctx, &search.ScoreInput{A: search.Query{Path: f.one}, B: search.Query{Path: f.one}, Format: "nope"})
	assert.True(t, errors.IsParseError(err))
}

// mapCache is an in-memory EmbeddingCache.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]embedding.Embedding
	misses  int
}

func (c *mapCache) Key(content []byte, model common.ModelIdentity, format, splitSettings string) string {
	return string(content) + "|" + model.String() + "|" + format + "|" + splitSettings
}

func (c *mapCache) GetOrCompute(ctx context.Context, key string,
	compute func(ctx context.Context) ([]embedding.Embedding, error)) ([]embedding.Embedding, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.entries[key]; ok {
		return v, true, nil
	}
	c.misses++
	v, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	c.entries[key] = v
	return v, false, nil
}

func TestSearch_UsesEmbeddingCache(t *testing.T) {
	cache := &mapCache{entries: map[string][]embedding.Embedding{}}
	f := newFixture(t, func(d *search.Deps) { d.Cache = cache })
	in := &search.SearchInput{Query: search.Query{Path: f.one, ID: "first"}, SearchParams: f.params()}

	first, err := f.svc.Search(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	in.Query.ID = "second"
	second, err := f.svc.Search(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, cache.misses)
	assert.Equal(t, "second", second.Results[0].QueryID)
	assert.Equal(t, first.Results[0].Hits, second.Results[0].Hits)

	in.Split = true
	_, err = f.svc.Search(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.misses)

	// Split results are not shared across segmenter configurations.
	g := newFixture(t, func(d *search.Deps) {
		d.Cache = cache
		d.Splitter = domainsplit.NewFallbackSplitter(domainsplit.NewContactSegmenter(0, 0), 30, nil)
	})
	other := &search.SearchInput{Query: search.Query{Path: g.one}, SearchParams: g.params()}
	other.Split = true
	res, err := g.svc.Search(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, cache.misses)

	other.Split = false
	res, err = g.svc.Search(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, res.Cached, "whole-chain embeddings do not depend on the segmenter")
}

func TestDatabases_ListsLoaded(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.svc.Databases())

	_, err := f.svc.Search(context.Background(), &search.SearchInput{Query: search.Query{Path: f.one}, SearchParams: f.params()})
	require.NoError(t, err)

	dbs := f.svc.Databases()
	require.Len(t, dbs, 1)
	assert.Equal(t, f.db, dbs[0].Name)
	assert.Equal(t, 2, dbs[0].Entries)
	assert.Equal(t, f.model.Identity().String(), dbs[0].Model)
	assert.Equal(t, f.model.Identity(), f.svc.Model())
}
