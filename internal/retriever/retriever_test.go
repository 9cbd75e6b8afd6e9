package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/assist-x/internal/index"
	"github.com/kart-io/assist-x/internal/model"
)

type fakeStore struct {
	vector []index.ScoredID
	text   []index.ScoredID
	byID   map[string]*model.Record
	brands []string
}

func (f *fakeStore) Upsert(context.Context, *model.Record) error      { return nil }
func (f *fakeStore) SoftDelete(context.Context, string) error         { return nil }
func (f *fakeStore) ListIDs(context.Context, model.Kind) ([]index.IDStatus, error) {
	return nil, nil
}

func (f *fakeStore) VectorSearch(context.Context, []model.Kind, []float32, int, float32) ([]index.ScoredID, error) {
	return f.vector, nil
}

func (f *fakeStore) TextSearch(context.Context, []model.Kind, string, int) ([]index.ScoredID, error) {
	return f.text, nil
}

func (f *fakeStore) GetMany(_ context.Context, ids []string) ([]*model.Record, error) {
	var out []*model.Record
	for _, id := range ids {
		if rec, ok := f.byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) DistinctAttribute(context.Context, model.Kind, string) ([]string, error) {
	return f.brands, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return []float32{0, 0, 0}, nil
}

// TestRetrieveScoresExactHitAboveConfidentThreshold exercises the full
// RRF + boost pipeline (not hand-injected scores) and checks the
// top-scoring exact match clears the Validator's thresholds, per the
// spec's "final score >= 0.6" exact-hit scenario.
func TestRetrieveScoresExactHitAboveConfidentThreshold(t *testing.T) {
	rec := &model.Record{
		ID: "product:1", Kind: model.KindProduct, Active: true,
		Attributes: model.Attributes{
			"brand": "Schneider", "amperage": "16", "voltage": "230", "polos": "1P+N", "curve": "C",
		},
	}
	store := &fakeStore{
		vector: []index.ScoredID{{ID: "product:1", Score: 0.9}},
		text:   []index.ScoredID{{ID: "product:1", Score: 0.9}},
		byID:   map[string]*model.Record{"product:1": rec},
		brands: []string{"Schneider"},
	}
	r := New(store, fakeEmbedder{}, Config{})

	results, err := r.Retrieve(context.Background(), "Schneider 16A 230V 1P+N curva C", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, results[0].Score, 0.6)
}

func TestNormalizeQueryLowercasesAndFoldsAccents(t *testing.T) {
	assert.Equal(t, "interruptor schneider", normalizeQuery("Interruptor Schnéider"))
}

func TestExtractTechnicalTermsRecognizesFixedClasses(t *testing.T) {
	terms := extractTechnicalTerms("Schneider IC40F 1P+N 16A curva C A9P53616")
	// The uppercase-code class is letters followed by digits, so a
	// trailing letter ("IC40F") is not part of the match.
	assert.Contains(t, terms, "IC40")
	assert.Contains(t, terms, "1P+N")
	assert.Contains(t, terms, "16A")
	// Curve terms are extracted as the bare letter, the same form the
	// curve attribute is stored in, so attributeBoost can match it.
	assert.Contains(t, terms, "C")
	assert.NotContains(t, terms, "curva C")
}

func TestWordBoundaryContainsRequiresBoundaries(t *testing.T) {
	assert.True(t, wordBoundaryContains("interruptor schneider 16a", "schneider"))
	assert.False(t, wordBoundaryContains("interruptor schneiderx 16a", "schneider"))
}

func TestAttributeBoostCapsAtMax(t *testing.T) {
	rec := &model.Record{Attributes: model.Attributes{
		"brand": "Schneider", "amperage": "16", "voltage": "230", "polos": "1P+N", "curve": "C",
	}}
	brands := map[string]struct{}{"schneider": {}}
	// Run the real query through extractTechnicalTerms rather than
	// hand-injecting pre-simplified terms, so this exercises the actual
	// curve-extraction path (spec example query "...curva C").
	terms := extractTechnicalTerms("Schneider 16A 230V 1P+N curva C")

	boost := attributeBoost(rec, brands, terms)
	assert.LessOrEqual(t, boost, MaxBoost)
	assert.Equal(t, MaxBoost, boost)
}

func TestAttributeBoostZeroWithNoMatch(t *testing.T) {
	rec := &model.Record{Attributes: model.Attributes{"brand": "Legrand"}}
	boost := attributeBoost(rec, map[string]struct{}{"schneider": {}}, nil)
	assert.Equal(t, 0.0, boost)
}
