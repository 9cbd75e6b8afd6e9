// Package index implements the Index Store (C4): durable Record
// storage plus hybrid vector/lexical queries.
package index

import (
	"context"
	"time"

	"github.com/kart-io/assist-x/internal/model"
)

// ScoredID is one ranked hit from a single-method search.
type ScoredID struct {
	ID    string
	Score float32
}

// IDStatus is one row of the reconciliation listing.
type IDStatus struct {
	ID          string
	ContentHash string
	Active      bool
}

// Store is the Index Store contract. Implementations must uphold the
// embedding invariance (active iff dense vector present) and must not
// let writers block readers at the table level.
type Store interface {
	// Upsert writes a row, regenerates LexicalVector and sets/clears
	// DenseVector per the active flag. Acquires a per-id advisory lock
	// to serialize racing writers for the same record.
	Upsert(ctx context.Context, rec *model.Record) error

	// SoftDelete sets active=false and clears the dense vector.
	SoftDelete(ctx context.Context, id string) error

	// VectorSearch ranks by cosine similarity, descending, filtered to
	// kinds in kindFilter (empty means all kinds) and active=true.
	VectorSearch(ctx context.Context, kindFilter []model.Kind, queryVec []float32, k int, minScore float32) ([]ScoredID, error)

	// TextSearch ranks by the Postgres tsvector rank over title (A),
	// attributes (B), body (C), filtered like VectorSearch.
	TextSearch(ctx context.Context, kindFilter []model.Kind, queryText string, k int) ([]ScoredID, error)

	// GetMany fetches full records for the given ids, active or not.
	GetMany(ctx context.Context, ids []string) ([]*model.Record, error)

	// ListIDs lists every row of a kind for reconciliation.
	ListIDs(ctx context.Context, kind model.Kind) ([]IDStatus, error)

	// DistinctAttribute returns the set of distinct non-empty values of
	// a top-level attribute key across active records of a kind (used
	// by the Hybrid Retriever's brand-set cache).
	DistinctAttribute(ctx context.Context, kind model.Kind, key string) ([]string, error)
}

// Deadline is the default per-call timeout for store operations.
const Deadline = 10 * time.Second
