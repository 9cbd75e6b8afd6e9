package sync

import (
	"regexp"
	"strings"

	"github.com/kart-io/assist-x/internal/catalog"
	"github.com/kart-io/assist-x/internal/model"
)

var reTag = regexp.MustCompile(`<[^>]*>`)
var reWhitespace = regexp.MustCompile(`\s+`)

// taxonomyMap renames a handful of known upstream attribute keys into
// the canonical names the retriever and refinement agent expect.
var taxonomyMap = map[string]string{
	"marca":     "brand",
	"amperaje":  "amperage",
	"voltaje":   "voltage",
	"polos":     "polos",
	"curva":     "curve",
	"categoria": "category",
}

// normalize strips HTML, collapses whitespace and remaps known
// taxonomy keys.
func normalize(kind model.Kind, u catalog.UpstreamRecord) *model.Record {
	title := stripAndCollapse(stringField(u.Payload, "title"))
	body := stripAndCollapse(stringField(u.Payload, "body"))

	attrs := model.Attributes{}
	for k, v := range u.Payload {
		if k == "title" || k == "body" {
			continue
		}
		key := k
		if mapped, ok := taxonomyMap[strings.ToLower(k)]; ok {
			key = mapped
		}
		attrs[key] = v
	}

	return &model.Record{
		ID:        string(kind) + ":" + u.ID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Attributes: attrs,
		Active:    true,
		UpdatedAt: u.UpdatedAt,
	}
}

func stripAndCollapse(s string) string {
	s = reTag.ReplaceAllString(s, "")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
