// Package refine implements the Refinement Agent (C10): producing one
// context-aware clarifying question from candidate records' attribute
// distribution.
package refine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kart-io/assist-x/internal/llmclient"
	"github.com/kart-io/assist-x/internal/retriever"
)

// priorityOrder breaks ties between equally-informative attributes.
var priorityOrder = []string{"brand", "amperage", "voltage", "polos", "curve", "category"}

// candidateKeys is the closed set of attribute keys considered for
// refinement questions.
var candidateKeys = []string{"brand", "amperage", "voltage", "polos", "curve", "category"}

// MinDistinctValues and MaxDistinctValues bound the attribute's
// distinct-value count for it to be worth asking about.
const (
	MinDistinctValues = 2
	MaxDistinctValues = 8
)

// Question is the C10 output.
type Question struct {
	Text            string
	Attribute       string   // "" when falling back to the generic prompt
	Options         []string // the presented option set (spec: MUST come from step 1)
	NeedsRefinement bool
}

// Agent is the C10 contract.
type Agent struct {
	llm llmclient.Client
}

// New creates an Agent. llm may be nil, in which case questions are
// phrased with a fixed template instead of a cheap-tier LLM call.
func New(llm llmclient.Client) *Agent {
	return &Agent{llm: llm}
}

// Ask implements the C10 algorithm.
func (a *Agent) Ask(ctx context.Context, results []retriever.Result) Question {
	attr, values := pickAttribute(results)
	if attr == "" {
		return Question{
			Text:            "Could you describe what you're looking for in a bit more detail?",
			NeedsRefinement: true,
		}
	}

	text := a.phrase(ctx, attr, values)
	return Question{Text: text, Attribute: attr, Options: values}
}

// pickAttribute scores candidate attributes by frequency and entropy
// across the result set, with a fixed priority-order tiebreak.
func pickAttribute(results []retriever.Result) (string, []string) {
	type stat struct {
		values  []string
		entropy float64
	}
	stats := map[string]stat{}

	for _, key := range candidateKeys {
		counts := map[string]int{}
		for _, r := range results {
			if r.Record == nil {
				continue
			}
			v := r.Record.Attributes.String(key)
			if v == "" {
				continue
			}
			counts[v]++
		}
		if len(counts) < MinDistinctValues || len(counts) > MaxDistinctValues {
			continue
		}

		total := 0
		for _, c := range counts {
			total += c
		}
		var entropy float64
		for _, c := range counts {
			p := float64(c) / float64(total)
			entropy -= p * math.Log2(p)
		}

		values := make([]string, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Strings(values)

		stats[key] = stat{values: values, entropy: entropy}
	}

	if len(stats) == 0 {
		return "", nil
	}

	bestKey := ""
	bestEntropy := -1.0
	for _, key := range priorityOrder {
		s, ok := stats[key]
		if !ok {
			continue
		}
		if s.entropy > bestEntropy {
			bestEntropy = s.entropy
			bestKey = key
		}
	}
	return bestKey, stats[bestKey].values
}

// phrase generates the question text. Phrasing may come from a cheap
// LLM tier, but the presented option set is always the one computed in
// pickAttribute.
func (a *Agent) phrase(ctx context.Context, attribute string, values []string) string {
	if a.llm == nil {
		return fallbackPhrase(attribute, values)
	}

	prompt := fmt.Sprintf(
		"Write one short, friendly clarifying question asking the customer to choose a %s from exactly these options: %s. Do not suggest any other options.",
		attribute, strings.Join(values, ", "))

	text, err := a.llm.Complete(ctx, prompt, llmclient.ModeFree, llmclient.TierCheap, nil)
	if err != nil || strings.TrimSpace(text) == "" {
		return fallbackPhrase(attribute, values)
	}
	return text
}

func fallbackPhrase(attribute string, values []string) string {
	return fmt.Sprintf("Which %s would you like: %s?", attribute, strings.Join(values, ", "))
}
