// Package validate implements the Result Validator (C9): the decision
// of whether to answer, ask a refining question, or escalate, given the
// retrieved set and conversation history. The decision is
// modeled as a tagged variant rather than control-flow exceptions.
package validate

import (
	"github.com/kart-io/assist-x/internal/intent"
	"github.com/kart-io/assist-x/internal/retriever"
)

// DecisionKind discriminates the Decision variant.
type DecisionKind string

const (
	DecisionAnswer   DecisionKind = "answer"
	DecisionRefine   DecisionKind = "refine"
	DecisionEscalate DecisionKind = "escalate"
)

// RefineReason distinguishes why a refinement was requested.
type RefineReason string

const (
	RefineFromQuery      RefineReason = "from_query"
	RefineFromAttributes RefineReason = "from_attributes"
)

// Decision is the C9 output: {Answer(records), Refine(reason), Escalate(reason)}.
// A sum type in place of exceptions for control-flow outcomes like
// "no results" or "too many results".
type Decision struct {
	Kind    DecisionKind
	Records []retriever.Result // populated when Kind == DecisionAnswer
	Reason  RefineReason       // populated when Kind == DecisionRefine
	Why     string             // populated when Kind == DecisionEscalate
}

// DefaultRefineThreshold is the |R| ceiling above which a crowded result
// set triggers attribute refinement.
const DefaultRefineThreshold = 15

// DefaultTopScoreFloor below which a result set is treated as "no good
// match".
const DefaultTopScoreFloor = 0.3

// DefaultConfidentScore above which a result set answers outright when
// not oversized.
const DefaultConfidentScore = 0.5

// MaxRefinements is the refinement count ceiling; at or beyond it the
// validator no longer refines: it answers, or escalates when there are
// no results or the top score is below TopScoreFloor.
const MaxRefinements = 2

// MaxConsecutiveFailures is the failed-answer streak that forces
// escalation regardless of the current result set.
const MaxConsecutiveFailures = 3

// Config tunes the decision thresholds; refine_threshold is tunable
// per deployment.
type Config struct {
	RefineThreshold int
	TopScoreFloor   float64
	ConfidentScore  float64
}

func (c Config) withDefaults() Config {
	if c.RefineThreshold == 0 {
		c.RefineThreshold = DefaultRefineThreshold
	}
	if c.TopScoreFloor == 0 {
		c.TopScoreFloor = DefaultTopScoreFloor
	}
	if c.ConfidentScore == 0 {
		c.ConfidentScore = DefaultConfidentScore
	}
	return c
}

// Validator is the C9 contract.
type Validator struct {
	cfg Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg.withDefaults()}
}

// Validate implements the answer/refine/escalate decision table.
func (v *Validator) Validate(classification intent.Classification, results []retriever.Result, refineCount, consecutiveFailures int) Decision {
	if classification.Intent == intent.IntentEscalationRequest || consecutiveFailures >= MaxConsecutiveFailures {
		return Decision{Kind: DecisionEscalate, Why: "escalation_request_or_failure_streak"}
	}

	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Score
	}

	if len(results) == 0 || topScore < v.cfg.TopScoreFloor {
		if refineCount < MaxRefinements {
			return Decision{Kind: DecisionRefine, Reason: RefineFromQuery}
		}
		return Decision{Kind: DecisionEscalate, Why: "no_good_match_after_refinement"}
	}

	if len(results) > v.cfg.RefineThreshold && refineCount < MaxRefinements {
		return Decision{Kind: DecisionRefine, Reason: RefineFromAttributes}
	}

	if len(results) <= v.cfg.RefineThreshold && topScore >= v.cfg.ConfidentScore {
		return Decision{Kind: DecisionAnswer, Records: results}
	}

	if refineCount >= MaxRefinements {
		return Decision{Kind: DecisionAnswer, Records: results}
	}
	return Decision{Kind: DecisionRefine, Reason: RefineFromAttributes}
}
