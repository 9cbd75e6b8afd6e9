package index

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/assist-x/internal/model"
)

func TestContentHashDeterministic(t *testing.T) {
	attrs := model.Attributes{"brand": "Schneider", "amperage": "16"}

	h1 := ContentHash("IC40F 1P+N 16A", "body text", attrs)
	h2 := ContentHash("IC40F 1P+N 16A", "body text", attrs)
	assert.Equal(t, h1, h2, "re-running normalization must yield the same content hash")
}

func TestContentHashChangesWithIndexedFields(t *testing.T) {
	base := ContentHash("title", "body", model.Attributes{"brand": "Schneider"})
	changedTitle := ContentHash("other title", "body", model.Attributes{"brand": "Schneider"})
	changedAttr := ContentHash("title", "body", model.Attributes{"brand": "Legrand"})

	assert.NotEqual(t, base, changedTitle)
	assert.NotEqual(t, base, changedAttr)
}

func TestContentHashIgnoresNonIndexedMutation(t *testing.T) {
	before := model.Attributes{"brand": "Schneider", "sku": "A9P53616", "price": 42.50, "stock": 10}
	after := model.Attributes{"brand": "Schneider", "sku": "A9P53616", "price": 39.90, "stock": 3}

	h1 := ContentHash("Interruptor", "desc", before)
	h2 := ContentHash("Interruptor", "desc", after)
	assert.Equal(t, h1, h2, "price/stock changes alone must not change the content hash")
}

func TestContentHashChangesWhenIndexedAttributeChangesAlongsidePrice(t *testing.T) {
	before := model.Attributes{"brand": "Schneider", "price": 42.50}
	after := model.Attributes{"brand": "Legrand", "price": 42.50}

	assert.NotEqual(t, ContentHash("Interruptor", "desc", before), ContentHash("Interruptor", "desc", after))
}

func TestAdvisoryLockKeyStable(t *testing.T) {
	assert.Equal(t, advisoryLockKey("product:42"), advisoryLockKey("product:42"))
	assert.NotEqual(t, advisoryLockKey("product:42"), advisoryLockKey("product:43"))
}
