package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/assist-x/internal/catalog"
	"github.com/kart-io/assist-x/internal/model"
)

func TestNormalizeStripsHTMLAndCollapsesWhitespace(t *testing.T) {
	u := catalog.UpstreamRecord{
		ID: "42",
		Payload: map[string]any{
			"title": "<b>Schneider</b>   A9P53616",
			"body":  "Interruptor   <br/>automatico  16A",
			"marca": "Schneider",
		},
	}
	rec := normalize(model.KindProduct, u)
	assert.Equal(t, "Schneider A9P53616", rec.Title)
	assert.Equal(t, "Interruptor automatico 16A", rec.Body)
	assert.Equal(t, "Schneider", rec.Attributes.String("brand"))
	assert.Equal(t, "product:42", rec.ID)
}

func TestNormalizeMapsTaxonomyKeys(t *testing.T) {
	u := catalog.UpstreamRecord{ID: "7", Payload: map[string]any{
		"title": "x", "body": "y", "amperaje": "16", "voltaje": "230",
	}}
	rec := normalize(model.KindProduct, u)
	assert.Equal(t, "16", rec.Attributes.String("amperage"))
	assert.Equal(t, "230", rec.Attributes.String("voltage"))
}
