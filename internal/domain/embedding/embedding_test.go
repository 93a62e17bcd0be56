package embedding_test

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/internal/testutil"
	"github.com/turtacn/progres-go/pkg/errors"
)

var testModel = common.ModelIdentity{Name: "progres-v0.2", Version: "0.2.0"}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = r.NormFloat64()
	}
	return embedding.Normalize(v)
}

func newEmbedding(id string, v []float32) *embedding.Embedding {
	return &embedding.Embedding{ID: id, Model: testModel, Vector: v, NRes: 100}
}

func TestNormalize(t *testing.T) {
	v := embedding.Normalize([]float64{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-7)
	assert.InDelta(t, 0.8, v[1], 1e-7)
	assert.Equal(t, []float32{0, 0}, embedding.Normalize([]float64{0, 0}))
}

func TestProgresScore(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	a, b := randomVector(r, 128), randomVector(r, 128)

	t.Run("identical is exactly one", func(t *testing.T) {
		assert.Equal(t, 1.0, embedding.ProgresScore(a, append([]float32(nil), a...)))
	})
	t.Run("one ulp apart stays below one", func(t *testing.T) {
		c := append([]float32(nil), a...)
		c[0] = math.Nextafter32(c[0], 2)
		s := embedding.ProgresScore(a, c)
		assert.Less(t, s, 1.0)
		assert.InDelta(t, 1.0, s, 1e-6)
		assert.Equal(t, s, embedding.ProgresScore(c, a))
	})
	t.Run("symmetric", func(t *testing.T) {
		assert.Equal(t, embedding.ProgresScore(a, b), embedding.ProgresScore(b, a))
	})
	t.Run("opposite is zero", func(t *testing.T) {
		neg := make([]float32, len(a))
		for i := range a {
			neg[i] = -a[i]
		}
		assert.InDelta(t, 0.0, embedding.ProgresScore(a, neg), 1e-6)
	})
	t.Run("orthogonal is half", func(t *testing.T) {
		assert.InDelta(t, 0.5, embedding.ProgresScore([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})
	t.Run("bounds", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			s := embedding.ProgresScore(randomVector(r, 16), randomVector(r, 16))
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	})
}

func TestScore(t *testing.T) {
	a := newEmbedding("a", []float32{1, 0})
	b := newEmbedding("b", []float32{0, 1})
	s, err := embedding.Score(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s, 1e-9)

	other := newEmbedding("c", []float32{0, 1})
	other.Model = common.ModelIdentity{Name: "other", Version: "1"}
	_, err = embedding.Score(a, other)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelMismatch))
	assert.True(t, errors.IsConfigurationError(err))

	_, err = embedding.Score(a, newEmbedding("d", []float32{1, 0, 0}))
	assert.True(t, errors.IsConfigurationError(err))
}

func buildDatabase(t *testing.T, vectors map[string][]float32, order []string) *embedding.Database {
	t.Helper()
	db := embedding.NewDatabase("test", testModel, len(vectors[order[0]]))
	for _, id := range order {
		require.NoError(t, db.Add(newEmbedding(id, vectors[id])))
	}
	return db
}

func TestSearch_Ranking(t *testing.T) {
	vecs := map[string][]float32{
		"far":   {0, 1},
		"near":  embedding.Normalize([]float64{1, 0.1}),
		"same":  {1, 0},
		"tie":   embedding.Normalize([]float64{1, 0.1}),
		"anti":  {-1, 0},
		"other": embedding.Normalize([]float64{1, 1}),
	}
	db := buildDatabase(t, vecs, []string{"far", "near", "same", "tie", "anti", "other"})
	query := newEmbedding("q", []float32{1, 0})

	hits, err := embedding.Search(query, db, 0.6, 10)
	require.NoError(t, err)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		assert.Equal(t, i+1, h.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}
	assert.Equal(t, []string{"same", "near", "tie", "other"}, ids)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, 2, hits[0].Index)

	hits, err = embedding.Search(query, db, 0, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = embedding.Search(query, db, 1.0, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "same", hits[0].ID)
}

func TestSearch_ExactThresholdKeepsOnlyIdentical(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	v := randomVector(r, 128)
	nearly := append([]float32(nil), v...)
	nearly[5] = math.Nextafter32(nearly[5], 0)

	db := buildDatabase(t, map[string][]float32{"self": v, "nearly": nearly}, []string{"nearly", "self"})
	hits, err := embedding.Search(newEmbedding("q", append([]float32(nil), v...)), db, 1.0, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "self", hits[0].ID)
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestSearch_Validation(t *testing.T) {
	db := buildDatabase(t, map[string][]float32{"a": {1, 0}}, []string{"a"})
	query := newEmbedding("q", []float32{1, 0})

	for _, tc := range []struct {
		min  float64
		hits int
	}{{-0.1, 10}, {1.1, 10}, {math.NaN(), 10}, {0.5, 0}} {
		_, err := embedding.Search(query, db, tc.min, tc.hits)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidParam), "min=%v hits=%d", tc.min, tc.hits)
	}

	_, err := embedding.Search(newEmbedding("q", []float32{1, 0, 0}), db, 0.5, 10)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestDatabase_AddAndValidate(t *testing.T) {
	db := embedding.NewDatabase("db", testModel, 2)
	assert.NotEmpty(t, db.DBID)
	require.NoError(t, db.Add(newEmbedding("a", []float32{1, 0})))
	assert.Error(t, db.Add(newEmbedding("b", []float32{1, 0, 0})))

	foreign := newEmbedding("c", []float32{1, 0})
	foreign.Model = common.ModelIdentity{Name: "x"}
	assert.True(t, errors.IsCode(db.Add(foreign), errors.ErrCodeModelMismatch))
	require.NoError(t, db.Validate())

	db.Entries = append(db.Entries, embedding.Entry{ID: "bad", Vector: []float32{1}})
	assert.True(t, errors.IsCode(db.Validate(), errors.ErrCodeDatabaseCorrupt))
}

func TestDatabase_CheckCompatible(t *testing.T) {
	db := embedding.NewDatabase("db", testModel, 2)
	other := common.ModelIdentity{Name: "other", Version: "9"}

	assert.NoError(t, db.CheckCompatible(testModel, 2, false, nil))
	assert.True(t, errors.IsCode(db.CheckCompatible(other, 2, false, nil), errors.ErrCodeModelMismatch))

	logger := testutil.NewRecordingLogger()
	assert.NoError(t, db.CheckCompatible(other, 2, true, logger))
	assert.Len(t, logger.Find("warn", "different model"), 1)

	assert.Error(t, db.CheckCompatible(testModel, 3, true, logger))
}

func TestRegistry_Resolve(t *testing.T) {
	dir := t.TempDir()
	dbDir := filepath.Join(dir, "databases", embedding.DatabaseVersionDir)
	require.NoError(t, os.MkdirAll(dbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dbDir, "ark_v1.db"), []byte("x"), 0o644))
	custom := filepath.Join(dir, "mine.db")
	require.NoError(t, os.WriteFile(custom, []byte("x"), 0o644))

	r := embedding.NewRegistry(dir)

	loc, err := r.Resolve("ark")
	require.NoError(t, err)
	assert.Equal(t, embedding.LocationFile, loc.Kind)
	assert.Equal(t, filepath.Join(dbDir, "ark_v1.db"), loc.Path)
	assert.Equal(t, "ark", loc.Name)

	_, err = r.Resolve("scope95")
	assert.True(t, errors.IsDatabaseNotFound(err))

	loc, err = r.Resolve(custom)
	require.NoError(t, err)
	assert.Equal(t, custom, loc.Path)

	_, err = r.Resolve(filepath.Join(dir, "missing.db"))
	assert.True(t, errors.IsDatabaseNotFound(err))

	loc, err = r.Resolve("s3://bucket/dbs/a.db")
	require.NoError(t, err)
	assert.Equal(t, embedding.LocationS3, loc.Kind)
	assert.Equal(t, "bucket", loc.Bucket)
	assert.Equal(t, "dbs/a.db", loc.Key)

	loc, err = r.Resolve("pg:cath")
	require.NoError(t, err)
	assert.Equal(t, embedding.LocationPostgres, loc.Kind)
	assert.Equal(t, "cath", loc.Collection)

	require.NoError(t, r.Register("mine", custom))
	loc, err = r.Resolve("mine")
	require.NoError(t, err)
	assert.Equal(t, custom, loc.Path)
	assert.Contains(t, r.Aliases(), "afted")

	_, err = r.Resolve("")
	assert.True(t, errors.IsConfigurationError(err))
	_, err = r.Resolve("s3://bucket")
	assert.True(t, errors.IsConfigurationError(err))
}

func TestRegistry_IsAlias(t *testing.T) {
	r := embedding.NewRegistry(t.TempDir())
	assert.True(t, r.IsAlias("scope95"))
	assert.True(t, r.IsAlias(" cath40 "))
	assert.False(t, r.IsAlias("/data/scope95.db"))
	assert.False(t, r.IsAlias("pg:scope95"))

	require.NoError(t, r.Register("team", "pg:team_db"))
	assert.True(t, r.IsAlias("team"))
}

func TestVectorCodec(t *testing.T) {
	v := []float32{1, -0.5, float32(math.Pi), 0}
	b := embedding.EncodeVector(v)
	assert.Len(t, b, 16)
	back, err := embedding.DecodeVector(b, 4)
	require.NoError(t, err)
	assert.Equal(t, v, back)

	_, err = embedding.DecodeVector(b[:15], 4)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseCorrupt))
}
