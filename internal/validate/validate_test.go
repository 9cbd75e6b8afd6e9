package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/assist-x/internal/index"
	"github.com/kart-io/assist-x/internal/intent"
	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/internal/retriever"
)

// results builds Result stubs with fixed scores to drive Validate's
// decision table directly. These values only need to span the
// TopScoreFloor/ConfidentScore boundaries (0.3/0.5) on the retriever's
// rescaled [0, 1+MaxBoost] score range; they're not meant to stand in
// for a real Retrieve() call, which TestRealRetrieverScoreAnswers below
// exercises end to end.
func results(scores ...float64) []retriever.Result {
	out := make([]retriever.Result, len(scores))
	for i, s := range scores {
		out[i] = retriever.Result{Score: s}
	}
	return out
}

type stubStore struct {
	vector []index.ScoredID
	text   []index.ScoredID
	byID   map[string]*model.Record
	brands []string
}

func (s *stubStore) Upsert(context.Context, *model.Record) error { return nil }
func (s *stubStore) SoftDelete(context.Context, string) error    { return nil }
func (s *stubStore) ListIDs(context.Context, model.Kind) ([]index.IDStatus, error) {
	return nil, nil
}
func (s *stubStore) VectorSearch(context.Context, []model.Kind, []float32, int, float32) ([]index.ScoredID, error) {
	return s.vector, nil
}
func (s *stubStore) TextSearch(context.Context, []model.Kind, string, int) ([]index.ScoredID, error) {
	return s.text, nil
}
func (s *stubStore) GetMany(_ context.Context, ids []string) ([]*model.Record, error) {
	var out []*model.Record
	for _, id := range ids {
		if rec, ok := s.byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
func (s *stubStore) DistinctAttribute(context.Context, model.Kind, string) ([]string, error) {
	return s.brands, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return []float32{0, 0, 0}, nil
}

// TestRealRetrieverScoreAnswers feeds a genuine HybridRetriever.Retrieve
// result (not a hand-picked score) into Validate, confirming an exact
// product hit clears ConfidentScore and answers on the first turn.
func TestRealRetrieverScoreAnswers(t *testing.T) {
	rec := &model.Record{
		ID: "product:1", Kind: model.KindProduct, Active: true,
		Attributes: model.Attributes{
			"brand": "Schneider", "amperage": "16", "voltage": "230", "polos": "1P+N", "curve": "C",
		},
	}
	store := &stubStore{
		vector: []index.ScoredID{{ID: "product:1", Score: 0.9}},
		text:   []index.ScoredID{{ID: "product:1", Score: 0.9}},
		byID:   map[string]*model.Record{"product:1": rec},
		brands: []string{"Schneider"},
	}
	r := retriever.New(store, stubEmbedder{}, retriever.Config{})
	results, err := r.Retrieve(context.Background(), "Schneider 16A 230V 1P+N curva C", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, results, 0, 0)
	assert.Equal(t, DecisionAnswer, d.Kind)
}

func TestEscalationRequestIntentAlwaysEscalates(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentEscalationRequest}, results(0.9), 0, 0)
	assert.Equal(t, DecisionEscalate, d.Kind)
}

func TestFailureStreakEscalates(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, results(0.9), 0, MaxConsecutiveFailures)
	assert.Equal(t, DecisionEscalate, d.Kind)
}

func TestEmptyResultsRefinesFromQueryUnderCap(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, nil, 0, 0)
	assert.Equal(t, DecisionRefine, d.Kind)
	assert.Equal(t, RefineFromQuery, d.Reason)
}

func TestEmptyResultsEscalatesAtRefinementCap(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, nil, MaxRefinements, 0)
	assert.Equal(t, DecisionEscalate, d.Kind)
}

func TestOversizedResultSetRefinesFromAttributes(t *testing.T) {
	v := New(Config{RefineThreshold: 2})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, results(0.9, 0.8, 0.7), 0, 0)
	assert.Equal(t, DecisionRefine, d.Kind)
	assert.Equal(t, RefineFromAttributes, d.Reason)
}

func TestConfidentSmallResultSetAnswers(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, results(0.9), 0, 0)
	assert.Equal(t, DecisionAnswer, d.Kind)
}

func TestAmbiguousResultSetAnswersAfterRefinementCap(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, results(0.4, 0.35), MaxRefinements, 0)
	assert.Equal(t, DecisionAnswer, d.Kind)
}

func TestAmbiguousResultSetRefinesBelowCap(t *testing.T) {
	v := New(Config{})
	d := v.Validate(intent.Classification{Intent: intent.IntentProductSearch}, results(0.4, 0.35), 0, 0)
	assert.Equal(t, DecisionRefine, d.Kind)
	assert.Equal(t, RefineFromAttributes, d.Reason)
}
