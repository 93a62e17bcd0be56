package embedding

import (
	"math"
	"sort"

	"github.com/turtacn/progres-go/pkg/errors"
)

const (
	DefaultMinSimilarity = 0.8
	DefaultMaxHits       = 100
)

// Hit is one database entry matching a query.
type Hit struct {
	Rank  int     `json:"rank"`
	Index int     `json:"index"` // position in the database
	ID    string  `json:"id"`
	Note  string  `json:"note,omitempty"`
	NRes  int     `json:"nres"`
	Score float64 `json:"score"`
}

// ValidateSearchParams checks the search limits.
func ValidateSearchParams(minSimilarity float64, maxHits int) error {
	if minSimilarity < 0 || minSimilarity > 1 || math.IsNaN(minSimilarity) {
		return errors.Newf(errors.ErrCodeInvalidParam, "min similarity %v outside [0, 1]", minSimilarity)
	}
	if maxHits < 1 {
		return errors.Newf(errors.ErrCodeInvalidParam, "max hits %d must be at least 1", maxHits)
	}
	return nil
}

// Search scores query against every entry of db, keeps entries scoring at
// least minSimilarity, and returns at most maxHits of them by descending
// score. Equal scores keep database order.
func Search(query *Embedding, db *Database, minSimilarity float64, maxHits int) ([]Hit, error) {
	if err := ValidateSearchParams(minSimilarity, maxHits); err != nil {
		return nil, err
	}
	if query.Dim() != db.Dim {
		return nil, errors.Newf(errors.ErrCodeModelMismatch,
			"query dimension %d does not match database dimension %d", query.Dim(), db.Dim).WithDetail(db.Name)
	}

	hits := make([]Hit, 0, 64)
	for i := range db.Entries {
		e := &db.Entries[i]
		s := ProgresScore(query.Vector, e.Vector)
		if s < minSimilarity {
			continue
		}
		hits = append(hits, Hit{Index: i, ID: e.ID, Note: e.Note, NRes: e.NRes, Score: s})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > maxHits {
		hits = hits[:maxHits]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}
