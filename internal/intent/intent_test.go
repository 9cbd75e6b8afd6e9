package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/assist-x/internal/llmclient"
)

type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Complete(ctx context.Context, prompt string, mode llmclient.Mode, tier llmclient.Tier, schema []byte) (string, error) {
	return s.text, s.err
}

func TestEscalationPreCheckShortCircuitsWithoutCallingLLM(t *testing.T) {
	llm := &stubLLM{text: `{"intent":"product_search","confidence":0.9}`}
	c := NewLLMClassifier(llm, []string{"quiero hablar con una persona", "talk to a human"})

	result, err := c.Classify(context.Background(), "Quiero Hablar Con Una Persona, por favor", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentEscalationRequest, result.Intent)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestLowConfidenceCoercesToUnsupported(t *testing.T) {
	llm := &stubLLM{text: `{"intent":"product_search","confidence":0.2}`}
	c := NewLLMClassifier(llm, nil)

	result, err := c.Classify(context.Background(), "algo raro", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentUnsupported, result.Intent)
	assert.True(t, result.NeedsRefinement)
}

func TestHighConfidencePassesThrough(t *testing.T) {
	llm := &stubLLM{text: `{"intent":"order_inquiry","confidence":0.87,"entities":{"order_number":"1001"}}`}
	c := NewLLMClassifier(llm, nil)

	result, err := c.Classify(context.Background(), "donde esta mi pedido 1001", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentOrderInquiry, result.Intent)
	assert.Equal(t, "1001", result.Entities.OrderNumber)
	assert.False(t, result.NeedsRefinement)
}
