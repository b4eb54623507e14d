package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

// DefaultTopK is the result count when a query does not set one.
const DefaultTopK = 5

// Search ranks rows by cosine similarity to vec and returns the best topK.
// Rows whose embedding is missing or of another dimension are skipped.
func (c *Collection) Search(ctx context.Context, vec []float32, topK int, role normalize.Role) ([]Row, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	var scored []Row
	err := c.Each(ctx, role, func(r Row) bool {
		if len(r.Embedding) == 0 || len(r.Embedding) != len(vec) {
			return true
		}
		r.Score = CosineSimilarity(vec, r.Embedding)
		r.Embedding = nil
		scored = append(scored, r)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// SubstringSearch returns up to topK rows whose content contains keyword,
// case-insensitively and ignoring full/half-width differences, in seq order.
// The role filter is not applied.
func (c *Collection) SubstringSearch(ctx context.Context, keyword string, topK int) ([]Row, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	caser := cases.Fold()
	fold := func(s string) string { return caser.String(norm.NFKC.String(s)) }
	needle := fold(strings.TrimSpace(keyword))

	var out []Row
	err := c.Each(ctx, "", func(r Row) bool {
		if strings.Contains(fold(r.Content), needle) {
			r.Embedding = nil
			out = append(out, r)
		}
		return len(out) < topK
	})
	return out, err
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
