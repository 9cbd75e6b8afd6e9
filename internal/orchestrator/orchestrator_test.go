package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/assist-x/internal/index"
	"github.com/kart-io/assist-x/internal/intent"
	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/internal/refine"
	"github.com/kart-io/assist-x/internal/retriever"
	"github.com/kart-io/assist-x/internal/validate"
)

type fakeClassifier struct {
	result intent.Classification
}

func (f *fakeClassifier) Classify(ctx context.Context, utterance string, recentHistory []intent.Message) (intent.Classification, error) {
	return f.result, nil
}

// fakeRetriever isolates orchestrator turn-handling logic (refine-count
// resets, escalation branching) from retrieval and scoring; its scores
// are chosen to land above ConfidentScore on the retriever's rescaled
// range, not as a stand-in for real retrieval. See
// TestExactMatchAnswersThroughRealRetrieverAndValidator for an
// end-to-end exercise of the real HybridRetriever's score output.
type fakeRetriever struct {
	results []retriever.Result
	calls   int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, kindFilter []model.Kind, k int) ([]retriever.Result, error) {
	f.calls++
	return f.results, nil
}

type fakeSessionStore struct {
	mu   sync.Mutex
	conv *model.Conversation
	msgs []model.Message
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{conv: &model.Conversation{ConversationID: "conv-1", Locale: "en"}}
}

func (f *fakeSessionStore) BeginOrResume(ctx context.Context, userID string, platform model.Platform, now time.Time) (*model.Conversation, error) {
	return f.conv, nil
}

func (f *fakeSessionStore) AppendMessage(ctx context.Context, convID string, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeSessionStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return f.conv, nil
}

func (f *fakeSessionStore) ListMessages(ctx context.Context, convID string, page, pageSize int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.msgs...), nil
}

func (f *fakeSessionStore) SearchConversations(ctx context.Context, userID string, platform model.Platform, page, pageSize int) ([]model.Conversation, error) {
	return nil, nil
}

func (f *fakeSessionStore) UpdateCounters(ctx context.Context, convID string, refineCount, consecutiveFailures int) error {
	f.conv.RefineCount = refineCount
	f.conv.ConsecutiveFailures = consecutiveFailures
	return nil
}

func TestEscalationIntentSkipsRetrievalAndValidator(t *testing.T) {
	classifier := &fakeClassifier{result: intent.Classification{Intent: intent.IntentEscalationRequest}}
	ret := &fakeRetriever{}
	sessions := newFakeSessionStore()
	validator := validate.New(validate.Config{})
	refiner := refine.New(nil)

	o := New(classifier, ret, validator, refiner, sessions, nil, nil)

	reply, err := o.OnUserMessage(context.Background(), "conv-1", "quiero hablar con una persona")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentEscalationRequest, reply.Intent)
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, 0, ret.calls)
}

type indexStub struct {
	vector []index.ScoredID
	text   []index.ScoredID
	byID   map[string]*model.Record
	brands []string
}

func (s *indexStub) Upsert(context.Context, *model.Record) error { return nil }
func (s *indexStub) SoftDelete(context.Context, string) error    { return nil }
func (s *indexStub) ListIDs(context.Context, model.Kind) ([]index.IDStatus, error) {
	return nil, nil
}
func (s *indexStub) VectorSearch(context.Context, []model.Kind, []float32, int, float32) ([]index.ScoredID, error) {
	return s.vector, nil
}
func (s *indexStub) TextSearch(context.Context, []model.Kind, string, int) ([]index.ScoredID, error) {
	return s.text, nil
}
func (s *indexStub) GetMany(_ context.Context, ids []string) ([]*model.Record, error) {
	var out []*model.Record
	for _, id := range ids {
		if rec, ok := s.byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
func (s *indexStub) DistinctAttribute(context.Context, model.Kind, string) ([]string, error) {
	return s.brands, nil
}

type embedderStub struct{}

func (embedderStub) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

func (embedderStub) EmbedSingle(context.Context, string) ([]float32, error) {
	return []float32{0, 0, 0}, nil
}

// TestExactMatchAnswersThroughRealRetrieverAndValidator runs a genuine
// product query through the real HybridRetriever and Validator (no
// hand-injected scores), confirming the orchestrator answers an exact
// hit in one turn rather than refining forever, per the fixed RRF/boost
// scale.
func TestExactMatchAnswersThroughRealRetrieverAndValidator(t *testing.T) {
	rec := &model.Record{
		ID: "product:1", Kind: model.KindProduct, Active: true, Title: "Interruptor Schneider IC40F",
		Attributes: model.Attributes{
			"brand": "Schneider", "amperage": "16", "voltage": "230", "polos": "1P+N", "curve": "C",
		},
	}
	store := &indexStub{
		vector: []index.ScoredID{{ID: "product:1", Score: 0.9}},
		text:   []index.ScoredID{{ID: "product:1", Score: 0.9}},
		byID:   map[string]*model.Record{"product:1": rec},
		brands: []string{"Schneider"},
	}
	ret := retriever.New(store, embedderStub{}, retriever.Config{})

	classifier := &fakeClassifier{result: intent.Classification{Intent: intent.IntentProductSearch, Confidence: 0.9}}
	sessions := newFakeSessionStore()
	validator := validate.New(validate.Config{})
	refiner := refine.New(nil)

	o := New(classifier, ret, validator, refiner, sessions, nil, nil)

	reply, err := o.OnUserMessage(context.Background(), "conv-1", "Schneider 16A 230V 1P+N curva C")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, 0, sessions.conv.RefineCount)
}

func TestAnswerDecisionResetsRefineCount(t *testing.T) {
	rec := &model.Record{ID: "product:1", Title: "Breaker"}
	classifier := &fakeClassifier{result: intent.Classification{Intent: intent.IntentProductSearch, Confidence: 0.9}}
	ret := &fakeRetriever{results: []retriever.Result{{Record: rec, Score: 0.9}}}
	sessions := newFakeSessionStore()
	sessions.conv.RefineCount = 2
	validator := validate.New(validate.Config{})
	refiner := refine.New(nil)

	o := New(classifier, ret, validator, refiner, sessions, nil, nil)

	reply, err := o.OnUserMessage(context.Background(), "conv-1", "schneider breaker 16a")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, 0, sessions.conv.RefineCount)
}
