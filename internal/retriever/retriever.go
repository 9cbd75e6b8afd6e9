// Package retriever implements the Hybrid Retriever (C7): combined
// lexical and dense-vector search fused with reciprocal rank fusion,
// plus brand and technical-term attribute boosts. It never
// calls an LLM and depends only on the Index Store and the Embedding
// Client.
package retriever

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kart-io/assist-x/internal/embedclient"
	"github.com/kart-io/assist-x/internal/index"
	"github.com/kart-io/assist-x/internal/model"
)

// Defaults for reciprocal rank fusion.
const (
	DefaultK              = 60
	DefaultVectorWeight   = 0.6
	DefaultTextWeight     = 0.4
	DefaultMinVectorScore = 0.25
	DefaultFanout         = 2 // candidate pool size multiplier (2k)
	MaxBoost              = 0.15
	BrandBoost            = 0.10
	TechTermBoost         = 0.05
	BrandCacheTTL         = 60 * time.Second
)

// Result is one scored record with its score breakdown, for
// observability.
type Result struct {
	Record     *model.Record
	Score      float64
	VectorRank int
	TextRank   int
	Boost      float64
}

// Config tunes the fusion weights. Zero values fall back to defaults.
type Config struct {
	K              int
	VectorWeight   float64
	TextWeight     float64
	MinVectorScore float32
	Fanout         int
}

func (c Config) withDefaults() Config {
	if c.K == 0 {
		c.K = DefaultK
	}
	if c.VectorWeight == 0 {
		c.VectorWeight = DefaultVectorWeight
	}
	if c.TextWeight == 0 {
		c.TextWeight = DefaultTextWeight
	}
	if c.MinVectorScore == 0 {
		c.MinVectorScore = DefaultMinVectorScore
	}
	if c.Fanout == 0 {
		c.Fanout = DefaultFanout
	}
	return c
}

// Retriever is the C7 contract.
type Retriever interface {
	Retrieve(ctx context.Context, query string, kindFilter []model.Kind, k int) ([]Result, error)
}

// HybridRetriever fuses vector_search and text_search results from a
// single Index Store.
type HybridRetriever struct {
	store    index.Store
	embedder embedclient.Client
	cfg      Config

	brandMu       sync.RWMutex
	brandSet      map[string]struct{}
	brandRefresh  time.Time
}

// New creates a HybridRetriever.
func New(store index.Store, embedder embedclient.Client, cfg Config) *HybridRetriever {
	return &HybridRetriever{store: store, embedder: embedder, cfg: cfg.withDefaults()}
}

var (
	reUpperCode  = regexp.MustCompile(`[A-Z]{2,}[0-9]*`)
	reDashedCode = regexp.MustCompile(`[A-Z0-9]+-[A-Z0-9]+`)
	reNumericUnit = regexp.MustCompile(`\d+(W|V|A|Hz|mA|mm2|mm|kA)`)
	rePole       = regexp.MustCompile(`(?i)(1P\+N|[1-4]P)`)
	reCurve      = regexp.MustCompile(`(?i)curva\s?([a-d])`)
)

// Retrieve implements the C7 contract.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, kindFilter []model.Kind, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	q := normalizeQuery(query)
	pool := k * r.cfg.Fanout

	brandTokens := r.matchBrands(ctx, q)
	techTerms := extractTechnicalTerms(query)

	var vecResults []index.ScoredID
	var textResults []index.ScoredID
	var vecErr, textErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		qv, err := r.embedder.EmbedSingle(ctx, q)
		if err != nil {
			vecErr = err
			return
		}
		vecResults, vecErr = r.store.VectorSearch(ctx, kindFilter, qv, pool, r.cfg.MinVectorScore)
	}()
	go func() {
		defer wg.Done()
		textResults, textErr = r.store.TextSearch(ctx, kindFilter, q, pool)
	}()
	wg.Wait()

	if vecErr != nil && textErr != nil {
		return nil, vecErr
	}

	vecRank := rankOf(vecResults)
	textRank := rankOf(textResults)

	ids := map[string]struct{}{}
	for _, s := range vecResults {
		ids[s.ID] = struct{}{}
	}
	for _, s := range textResults {
		ids[s.ID] = struct{}{}
	}
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}

	records, err := r.store.GetMany(ctx, idList)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	K := float64(r.cfg.K)
	// rrfMax is the RRF score of a record ranked first in both searches,
	// the best case fusion can produce. Dividing by it rescales fused
	// scores onto [0, 1] so they're comparable to the Validator's
	// TopScoreFloor/ConfidentScore thresholds, instead of sitting in
	// RRF's native ~0.01 range regardless of match quality.
	rrfMax := (r.cfg.VectorWeight + r.cfg.TextWeight) / (K + 1)

	out := make([]Result, 0, len(idList))
	for _, id := range idList {
		rec, ok := byID[id]
		if !ok || !rec.Active {
			continue
		}

		vr, hasV := vecRank[id]
		tr, hasT := textRank[id]

		var rawRRF float64
		if hasV {
			rawRRF += r.cfg.VectorWeight / (K + float64(vr))
		}
		if hasT {
			rawRRF += r.cfg.TextWeight / (K + float64(tr))
		}

		boost := attributeBoost(rec, brandTokens, techTerms)
		score := rawRRF/rrfMax + boost

		out = append(out, Result{Record: rec, Score: score, VectorRank: vr, TextRank: tr, Boost: boost})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Record.UpdatedAt.Equal(out[j].Record.UpdatedAt) {
			return out[i].Record.UpdatedAt.After(out[j].Record.UpdatedAt)
		}
		return out[i].Record.ID < out[j].Record.ID
	})

	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func rankOf(results []index.ScoredID) map[string]int {
	m := make(map[string]int, len(results))
	for i, r := range results {
		m[r.ID] = i + 1 // 1-based rank
	}
	return m
}

// attributeBoost applies brand and technical-term boosts, capped at
// MaxBoost.
func attributeBoost(rec *model.Record, brandTokens map[string]struct{}, techTerms []string) float64 {
	var boost float64

	if brand := strings.ToLower(rec.Attributes.String("brand")); brand != "" {
		if _, ok := brandTokens[brand]; ok {
			boost += BrandBoost
		}
	}

	attrBlob := strings.ToLower(rec.Attributes.String("amperage") + " " + rec.Attributes.String("voltage") +
		" " + rec.Attributes.String("polos") + " " + rec.Attributes.String("curve") + " " + rec.Attributes.String("sku"))
	for _, term := range techTerms {
		if strings.Contains(attrBlob, strings.ToLower(term)) {
			boost += TechTermBoost
		}
	}

	if boost > MaxBoost {
		boost = MaxBoost
	}
	return boost
}

// matchBrands extracts brand tokens present in q by longest-match
// lookup against the cached distinct brand set.
func (r *HybridRetriever) matchBrands(ctx context.Context, q string) map[string]struct{} {
	brands := r.brands(ctx)
	matched := map[string]struct{}{}

	// Longest brand names first so multi-word brands win over prefixes.
	sorted := make([]string, 0, len(brands))
	for b := range brands {
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, b := range sorted {
		if !wordBoundaryContains(q, b) {
			continue
		}
		// A brand contained in a longer brand already matched is skipped.
		covered := false
		for m := range matched {
			if wordBoundaryContains(m, b) {
				covered = true
				break
			}
		}
		if !covered {
			matched[b] = struct{}{}
		}
	}
	return matched
}

func (r *HybridRetriever) brands(ctx context.Context) map[string]struct{} {
	r.brandMu.RLock()
	fresh := time.Since(r.brandRefresh) < BrandCacheTTL && r.brandSet != nil
	set := r.brandSet
	r.brandMu.RUnlock()
	if fresh {
		return set
	}

	values, err := r.store.DistinctAttribute(ctx, model.KindProduct, "brand")
	if err != nil {
		r.brandMu.RLock()
		defer r.brandMu.RUnlock()
		if r.brandSet != nil {
			return r.brandSet
		}
		return map[string]struct{}{}
	}

	newSet := make(map[string]struct{}, len(values))
	for _, v := range values {
		newSet[strings.ToLower(v)] = struct{}{}
	}

	r.brandMu.Lock()
	r.brandSet = newSet
	r.brandRefresh = time.Now()
	r.brandMu.Unlock()

	return newSet
}

func wordBoundaryContains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	idx := strings.Index(haystack, needle)
	for idx != -1 {
		start := idx
		end := idx + len(needle)
		leftOK := start == 0 || haystack[start-1] == ' '
		rightOK := end == len(haystack) || haystack[end] == ' '
		if leftOK && rightOK {
			return true
		}
		next := strings.Index(haystack[idx+1:], needle)
		if next == -1 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

// extractTechnicalTerms applies the fixed regex class set over the
// original (non-lowercased) query. Curve matches yield only the bare
// letter (e.g. "C"), the same form the curve attribute is stored in,
// so attributeBoost can match "curva C" in the query against a
// record's curve="C".
func extractTechnicalTerms(query string) []string {
	var terms []string
	terms = append(terms, reUpperCode.FindAllString(query, -1)...)
	terms = append(terms, reDashedCode.FindAllString(query, -1)...)
	terms = append(terms, reNumericUnit.FindAllString(query, -1)...)
	terms = append(terms, rePole.FindAllString(query, -1)...)
	for _, m := range reCurve.FindAllStringSubmatch(query, -1) {
		terms = append(terms, strings.ToUpper(m[1]))
	}
	return terms
}

// normalizeQuery lowercases and accent-folds q.
func normalizeQuery(q string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, q)
	if err != nil {
		folded = q
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
