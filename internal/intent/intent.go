// Package intent implements the Intent Classifier (C8): mapping a user
// utterance and recent conversation history to a tagged intent and
// entity bag. A deterministic escalation pre-check always
// runs before any LLM call.
package intent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kart-io/assist-x/internal/llmclient"
	"github.com/kart-io/assist-x/pkg/klog"
)

// Intent is the closed set of classifier outputs.
type Intent string

const (
	IntentProductSearch     Intent = "product_search"
	IntentOrderInquiry      Intent = "order_inquiry"
	IntentKnowledgeQuestion Intent = "knowledge_question"
	IntentEscalationRequest Intent = "escalation_request"
	IntentGreeting          Intent = "greeting"
	IntentFarewell          Intent = "farewell"
	IntentSmallTalk         Intent = "small_talk"
	IntentUnsupported       Intent = "unsupported"
)

// ConfidenceFloor is the minimum classifier confidence before an
// intent is coerced to unsupported.
const ConfidenceFloor = 0.5

// TechnicalSpecs is the free-form technical entity bag.
type TechnicalSpecs map[string]string

// Entities is the extracted entity bag.
type Entities struct {
	OrderNumber    string         `json:"order_number,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Brand          string         `json:"brand,omitempty"`
	Category       string         `json:"category,omitempty"`
	TechnicalSpecs TechnicalSpecs `json:"technical_specs,omitempty"`
}

// Classification is the C8 result.
type Classification struct {
	Intent          Intent
	Entities        Entities
	Confidence      float64
	NeedsRefinement bool
}

// Message is one turn of conversation history, used to build the
// classification prompt.
type Message struct {
	Sender  string
	Content string
}

// Classifier is the C8 contract.
type Classifier interface {
	Classify(ctx context.Context, utterance string, recentHistory []Message) (Classification, error)
}

const classifySchema = `{
  "type": "object",
  "required": ["intent", "confidence"],
  "properties": {
    "intent": {"type": "string"},
    "confidence": {"type": "number"},
    "entities": {
      "type": "object",
      "properties": {
        "order_number": {"type": "string"},
        "email": {"type": "string"},
        "phone": {"type": "string"},
        "brand": {"type": "string"},
        "category": {"type": "string"},
        "technical_specs": {"type": "object"}
      }
    }
  }
}`

// LLMClassifier classifies via C2 in json_schema mode, with
// a deterministic escalation pre-check that short-circuits before any
// LLM call.
type LLMClassifier struct {
	llm              llmclient.Client
	escalationPhrases []string
}

// NewLLMClassifier creates an LLMClassifier. escalationPhrases is
// configurable data, not code.
func NewLLMClassifier(llm llmclient.Client, escalationPhrases []string) *LLMClassifier {
	lowered := make([]string, len(escalationPhrases))
	for i, p := range escalationPhrases {
		lowered[i] = strings.ToLower(p)
	}
	return &LLMClassifier{llm: llm, escalationPhrases: lowered}
}

// Classify implements the C8 contract.
func (c *LLMClassifier) Classify(ctx context.Context, utterance string, recentHistory []Message) (Classification, error) {
	if c.matchesEscalation(utterance) {
		return Classification{Intent: IntentEscalationRequest, Confidence: 1.0}, nil
	}

	prompt := buildPrompt(utterance, recentHistory)
	text, err := c.llm.Complete(ctx, prompt, llmclient.ModeJSONSchema, llmclient.TierStandard, []byte(classifySchema))
	if err != nil {
		return Classification{}, err
	}

	var parsed struct {
		Intent     string `json:"intent"`
		Confidence float64 `json:"confidence"`
		Entities   Entities `json:"entities"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		klog.Warnw("intent classification returned unparseable json", "error", err.Error())
		return Classification{Intent: IntentUnsupported, Confidence: 0, NeedsRefinement: true}, nil
	}

	result := Classification{
		Intent:     Intent(parsed.Intent),
		Entities:   parsed.Entities,
		Confidence: parsed.Confidence,
	}
	if result.Confidence < ConfidenceFloor {
		result.Intent = IntentUnsupported
		result.NeedsRefinement = true
	}
	return result, nil
}

// matchesEscalation implements the deterministic escalation pre-check
//: exact-insensitive substring match against configured
// phrases.
func (c *LLMClassifier) matchesEscalation(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, phrase := range c.escalationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func buildPrompt(utterance string, recentHistory []Message) string {
	var b strings.Builder
	b.WriteString("Classify the following customer message into one of: product_search, order_inquiry, ")
	b.WriteString("knowledge_question, escalation_request, greeting, farewell, small_talk, unsupported.\n\n")
	b.WriteString("Recent conversation:\n")
	for _, m := range recentHistory {
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent message: ")
	b.WriteString(utterance)
	return b.String()
}
