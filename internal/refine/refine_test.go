package refine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/internal/retriever"
)

func rec(brand string) *model.Record {
	return &model.Record{Attributes: model.Attributes{"brand": brand}}
}

func TestAskPresentsExactDistinctBrandSet(t *testing.T) {
	a := New(nil)
	results := []retriever.Result{
		{Record: rec("Schneider")}, {Record: rec("Legrand")}, {Record: rec("ABB")},
		{Record: rec("Schneider")}, {Record: rec("Legrand")},
	}
	q := a.Ask(context.Background(), results)
	require.Equal(t, "brand", q.Attribute)
	assert.ElementsMatch(t, []string{"ABB", "Legrand", "Schneider"}, q.Options)
	assert.False(t, q.NeedsRefinement)
}

func TestAskFallsBackWhenNoAttributeQualifies(t *testing.T) {
	a := New(nil)
	// A single distinct brand value across all results never qualifies
	// (needs >= 2 distinct values).
	results := []retriever.Result{{Record: rec("Schneider")}, {Record: rec("Schneider")}}
	q := a.Ask(context.Background(), results)
	assert.Equal(t, "", q.Attribute)
	assert.True(t, q.NeedsRefinement)
}

func TestAskSkipsAttributesOutsideDistinctRange(t *testing.T) {
	a := New(nil)
	var results []retriever.Result
	for i := 0; i < 9; i++ {
		results = append(results, retriever.Result{Record: rec(string(rune('A' + i)))})
	}
	q := a.Ask(context.Background(), results)
	// 9 distinct brand values exceeds MaxDistinctValues; no other
	// candidate attribute present, so it falls back.
	assert.Equal(t, "", q.Attribute)
}
