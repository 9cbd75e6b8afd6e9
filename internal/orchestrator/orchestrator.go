// Package orchestrator implements the Conversation Orchestrator (C11):
// driving one turn through classify -> retrieve -> validate ->
// (refine|answer|escalate), emitting a reply and persisting state.
// Depends only inward on C7, C8, C9, C10, C12, C2; C7 never calls back
// into C8 or C11.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/assist-x/internal/intent"
	"github.com/kart-io/assist-x/internal/llmclient"
	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/internal/refine"
	"github.com/kart-io/assist-x/internal/retriever"
	"github.com/kart-io/assist-x/internal/session"
	"github.com/kart-io/assist-x/internal/validate"
	"github.com/kart-io/assist-x/pkg/klog"
)

// InboundQueueSize bounds the per-conversation pending-turn queue.
const InboundQueueSize = 4

// Reply is the orchestrator's output for one turn.
type Reply struct {
	MessageID string
	Text      string
	Intent    intent.Intent
}

// Orchestrator is the C11 contract.
type Orchestrator struct {
	classifier intent.Classifier
	retriever  retriever.Retriever
	validator  *validate.Validator
	refiner    *refine.Agent
	sessions   session.Store
	llm        llmclient.Client

	handoffTemplate func(locale string) string

	mu    sync.Mutex
	turns map[string]chan turnRequest
}

// New creates an Orchestrator.
func New(
	classifier intent.Classifier,
	ret retriever.Retriever,
	validator *validate.Validator,
	refiner *refine.Agent,
	sessions session.Store,
	llm llmclient.Client,
	handoffTemplate func(locale string) string,
) *Orchestrator {
	if handoffTemplate == nil {
		handoffTemplate = defaultHandoffTemplate
	}
	return &Orchestrator{
		classifier: classifier, retriever: ret, validator: validator,
		refiner: refiner, sessions: sessions, llm: llm,
		handoffTemplate: handoffTemplate,
		turns:           map[string]chan turnRequest{},
	}
}

func defaultHandoffTemplate(locale string) string {
	return "I'm connecting you with a member of our support team who can help further. They'll be with you shortly."
}

type turnRequest struct {
	ctx    context.Context
	text   string
	result chan turnResult
}

type turnResult struct {
	reply Reply
	err   error
}

// OnUserMessage runs the per-turn pipeline, serialized per conversation
// via a bounded per-conversation channel; concurrent conversations run
// independently.
func (o *Orchestrator) OnUserMessage(ctx context.Context, convID, text string) (Reply, error) {
	ch := o.queueFor(convID)

	req := turnRequest{ctx: ctx, text: text, result: make(chan turnResult, 1)}
	select {
	case ch <- req:
	default:
		// Queue full: drop the oldest pending request; its caller gets a
		// queue-overflow error. No system message is recorded for the drop.
		select {
		case dropped := <-ch:
			dropped.result <- turnResult{err: fmt.Errorf("turn dropped: queue overflow")}
		default:
		}
		ch <- req
	}

	select {
	case res := <-req.result:
		return res.reply, res.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (o *Orchestrator) queueFor(convID string) chan turnRequest {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch, ok := o.turns[convID]
	if !ok {
		ch = make(chan turnRequest, InboundQueueSize)
		o.turns[convID] = ch
		go o.runQueue(convID, ch)
	}
	return ch
}

// runQueue serializes turn processing within one conversation: turns
// within one conversation are strictly ordered.
func (o *Orchestrator) runQueue(convID string, ch chan turnRequest) {
	for req := range ch {
		reply, err := o.processTurn(req.ctx, convID, req.text)
		req.result <- turnResult{reply: reply, err: err}
	}
}

func (o *Orchestrator) processTurn(ctx context.Context, convID, text string) (Reply, error) {
	t0 := time.Now()

	conv, err := o.sessions.GetConversation(ctx, convID)
	if err != nil {
		return Reply{}, err
	}

	history := o.recentHistory(ctx, convID, 5)
	classification, err := o.classifier.Classify(ctx, text, history)
	if err != nil {
		klog.Warnw("intent classification failed", "conversation_id", convID, "error", err.Error())
		return o.escalate(ctx, conv, text, classification.Intent, t0)
	}

	if classification.Intent == intent.IntentEscalationRequest {
		return o.escalate(ctx, conv, text, classification.Intent, t0)
	}

	results, err := o.retriever.Retrieve(ctx, text, kindFilterFor(classification.Intent), 10)
	if err != nil {
		klog.Warnw("retrieval failed", "conversation_id", convID, "error", err.Error())
		conv.ConsecutiveFailures++
		return o.escalateIfRepeated(ctx, conv, text, classification.Intent, t0)
	}

	decision := o.validator.Validate(classification, results, conv.RefineCount, conv.ConsecutiveFailures)

	var replyText string
	switch decision.Kind {
	case validate.DecisionAnswer:
		replyText = o.synthesize(ctx, classification, results, history)
		conv.RefineCount = 0
		conv.ConsecutiveFailures = 0
	case validate.DecisionRefine:
		q := o.refiner.Ask(ctx, results)
		replyText = q.Text
		conv.RefineCount++
	case validate.DecisionEscalate:
		replyText = o.handoffTemplate(conv.Locale)
	}

	latency := time.Since(t0)
	msgID := ulid.Make().String()

	if err := o.persistTurn(ctx, convID, text, replyText, classification, latency, msgID); err != nil {
		return Reply{}, err
	}
	if err := o.saveConversationState(ctx, conv); err != nil {
		klog.Warnw("failed to persist conversation counters", "conversation_id", convID, "error", err.Error())
	}

	return Reply{MessageID: msgID, Text: replyText, Intent: classification.Intent}, nil
}

func (o *Orchestrator) escalate(ctx context.Context, conv *model.Conversation, text string, i intent.Intent, t0 time.Time) (Reply, error) {
	replyText := o.handoffTemplate(conv.Locale)
	msgID := ulid.Make().String()
	classification := intent.Classification{Intent: i}
	if err := o.persistTurn(ctx, conv.ConversationID, text, replyText, classification, time.Since(t0), msgID); err != nil {
		return Reply{}, err
	}
	return Reply{MessageID: msgID, Text: replyText, Intent: intent.IntentEscalationRequest}, nil
}

func (o *Orchestrator) escalateIfRepeated(ctx context.Context, conv *model.Conversation, text string, i intent.Intent, t0 time.Time) (Reply, error) {
	if conv.ConsecutiveFailures >= validate.MaxConsecutiveFailures {
		return o.escalate(ctx, conv, text, i, t0)
	}
	replyText := "I'm having trouble searching right now, could you try rephrasing your question?"
	msgID := ulid.Make().String()
	classification := intent.Classification{Intent: i}
	if err := o.persistTurn(ctx, conv.ConversationID, text, replyText, classification, time.Since(t0), msgID); err != nil {
		return Reply{}, err
	}
	_ = o.saveConversationState(ctx, conv)
	return Reply{MessageID: msgID, Text: replyText, Intent: i}, nil
}

// synthesize produces the final answer text via the standard LLM tier.
func (o *Orchestrator) synthesize(ctx context.Context, classification intent.Classification, results []retriever.Result, history []intent.Message) string {
	if o.llm == nil || len(results) == 0 {
		return genericAnswer(results)
	}

	var b strings.Builder
	b.WriteString("Using only the following product/knowledge entries, answer the customer's question concisely:\n\n")
	for _, r := range results {
		if r.Record == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Record.Title, truncate(r.Record.Body, 280))
	}

	text, err := o.llm.Complete(ctx, b.String(), llmclient.ModeFree, llmclient.TierStandard, nil)
	if err != nil || strings.TrimSpace(text) == "" {
		return genericAnswer(results)
	}
	return text
}

func genericAnswer(results []retriever.Result) string {
	if len(results) == 0 {
		return "I couldn't find anything matching that, could you give me a bit more detail?"
	}
	return fmt.Sprintf("Here's what I found: %s.", results[0].Record.Title)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (o *Orchestrator) persistTurn(ctx context.Context, convID, userText, botText string, classification intent.Classification, latency time.Duration, msgID string) error {
	userMsg := &model.Message{
		Sender: model.SenderUser, Content: userText,
		Intent: string(classification.Intent), CreatedAt: time.Now(),
	}
	if err := o.sessions.AppendMessage(ctx, convID, userMsg); err != nil {
		return err
	}

	botMsg := &model.Message{
		MessageID: msgID, Sender: model.SenderBot, Content: botText,
		Intent: string(classification.Intent), ResponseTimeMs: latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	return o.sessions.AppendMessage(ctx, convID, botMsg)
}

func (o *Orchestrator) saveConversationState(ctx context.Context, conv *model.Conversation) error {
	return o.sessions.UpdateCounters(ctx, conv.ConversationID, conv.RefineCount, conv.ConsecutiveFailures)
}

func (o *Orchestrator) recentHistory(ctx context.Context, convID string, n int) []intent.Message {
	msgs, err := o.sessions.ListMessages(ctx, convID, 0, 1000)
	if err != nil || len(msgs) == 0 {
		return nil
	}
	start := 0
	if len(msgs) > n {
		start = len(msgs) - n
	}
	out := make([]intent.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, intent.Message{Sender: string(m.Sender), Content: m.Content})
	}
	return out
}

func kindFilterFor(i intent.Intent) []model.Kind {
	switch i {
	case intent.IntentKnowledgeQuestion:
		return []model.Kind{model.KindKnowledge}
	case intent.IntentProductSearch:
		return []model.Kind{model.KindProduct, model.KindCategory}
	default:
		return nil
	}
}
