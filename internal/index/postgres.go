package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
)

// PostgresStore implements Store on a single Postgres database with
// the pgvector extension. Lexical ranking uses Postgres's built-in
// tsvector/tsrank instead of a separate search engine, keeping the
// whole Record table in one relational store.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore wraps an already-connected *gorm.DB. Callers own
// connection pool sizing: it should exceed concurrent turns*2 plus
// background workers.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AutoMigrate creates/updates the records table, its tsvector generated
// column and the pgvector extension.
func (s *PostgresStore) AutoMigrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("index: migrate extension: %w", err)
		}
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&model.Record{}); err != nil {
		return fmt.Errorf("index: automigrate records: %w", err)
	}
	ddl := []string{
		`ALTER TABLE records ADD COLUMN IF NOT EXISTS lexical_vector tsvector
			GENERATED ALWAYS AS (
				setweight(to_tsvector('simple', coalesce(title, '')), 'A') ||
				setweight(to_tsvector('simple', coalesce((attributes - 'price' - 'stock')::text, '')), 'B') ||
				setweight(to_tsvector('simple', coalesce(body, '')), 'C')
			) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_records_lexical ON records USING GIN (lexical_vector)`,
		`CREATE INDEX IF NOT EXISTS idx_records_dense ON records USING ivfflat (dense_vector vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range ddl {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("index: migrate ddl: %w", err)
		}
	}
	return nil
}

// advisoryLockKey hashes an id into the int64 space pg_advisory_xact_lock
// expects, so two concurrent Upserts for the same id serialize without
// a shared row lock visible to readers.
func advisoryLockKey(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

// nonIndexedAttributeKeys are transactional fields that change often
// without affecting a record's semantic content. They're excluded from
// ContentHash and the lexical_vector generated column (see the
// "attributes - 'price' - 'stock'" expression in AutoMigrate) so a
// price or stock update alone never triggers a re-embed.
var nonIndexedAttributeKeys = []string{"price", "stock"}

// indexableAttributes copies attrs with the non-indexed transactional
// keys removed. The full attrs map, price and stock included, still
// lands on the Record for display; only hashing and lexical search see
// the filtered copy.
func indexableAttributes(attrs model.Attributes) model.Attributes {
	out := make(model.Attributes, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	for _, k := range nonIndexedAttributeKeys {
		delete(out, k)
	}
	return out
}

// ContentHash computes the stable hash over the normalized indexable
// fields: it changes iff any indexed field changes.
func ContentHash(title, body string, attrs model.Attributes) string {
	norm, _ := json.Marshal(indexableAttributes(attrs))
	sum := sha256.Sum256([]byte(title + "\x00" + body + "\x00" + string(norm)))
	return hex.EncodeToString(sum[:])
}

// Upsert writes rec, recomputing its content hash with ContentHash and
// clearing the dense vector when rec is inactive; the database
// regenerates the lexical column on write.
func (s *PostgresStore) Upsert(ctx context.Context, rec *model.Record) error {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	rec.ContentHash = ContentHash(rec.Title, rec.Body, rec.Attributes)
	if !rec.Active {
		rec.DenseVector = nil
	}
	rec.UpdatedAt = time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(?)`, advisoryLockKey(rec.ID)).Error; err != nil {
			return err
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		return tx.Save(rec).Error
	})
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// SoftDelete marks id inactive and clears its dense vector.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(?)`, advisoryLockKey(id)).Error; err != nil {
			return err
		}
		return tx.Model(&model.Record{}).Where("id = ?", id).
			Updates(map[string]any{"active": false, "dense_vector": nil, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func kindClause(tx *gorm.DB, kindFilter []model.Kind) *gorm.DB {
	if len(kindFilter) > 0 {
		return tx.Where("kind IN ?", kindFilter)
	}
	return tx
}

// VectorSearch ranks active records by cosine similarity.
func (s *PostgresStore) VectorSearch(ctx context.Context, kindFilter []model.Kind, queryVec []float32, k int, minScore float32) ([]ScoredID, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	vec := pgvector.NewVector(queryVec)
	var rows []struct {
		ID    string
		Score float32
	}
	q := s.db.WithContext(ctx).Model(&model.Record{}).
		Select("id, 1 - (dense_vector <=> ?) AS score", vec).
		Where("active = ? AND dense_vector IS NOT NULL", true)
	q = kindClause(q, kindFilter)
	err := q.Where("1 - (dense_vector <=> ?) >= ?", vec, minScore).
		Order("score DESC").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}

	out := make([]ScoredID, len(rows))
	for i, r := range rows {
		out[i] = ScoredID{ID: r.ID, Score: r.Score}
	}
	return out, nil
}

// TextSearch ranks active records by weighted tsvector rank.
func (s *PostgresStore) TextSearch(ctx context.Context, kindFilter []model.Kind, queryText string, k int) ([]ScoredID, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	var rows []struct {
		ID    string
		Score float32
	}
	q := s.db.WithContext(ctx).Model(&model.Record{}).
		Select("id, ts_rank(lexical_vector, plainto_tsquery('simple', ?)) AS score", queryText).
		Where("active = ? AND lexical_vector @@ plainto_tsquery('simple', ?)", true, queryText)
	q = kindClause(q, kindFilter)
	err := q.Order("score DESC").Limit(k).Scan(&rows).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}

	out := make([]ScoredID, len(rows))
	for i, r := range rows {
		out[i] = ScoredID{ID: r.ID, Score: r.Score}
	}
	return out, nil
}

// GetMany fetches full records by id.
func (s *PostgresStore) GetMany(ctx context.Context, ids []string) ([]*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	if len(ids) == 0 {
		return nil, nil
	}
	var recs []*model.Record
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	return recs, nil
}

// ListIDs lists every row of a kind for reconciliation.
func (s *PostgresStore) ListIDs(ctx context.Context, kind model.Kind) ([]IDStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	var rows []IDStatus
	err := s.db.WithContext(ctx).Model(&model.Record{}).
		Select("id, content_hash, active").
		Where("kind = ?", kind).
		Scan(&rows).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return rows, nil
}

// DistinctAttribute returns distinct string values of a top-level JSON
// attribute key across active records of a kind.
func (s *PostgresStore) DistinctAttribute(ctx context.Context, kind model.Kind, key string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	var values []string
	err := s.db.WithContext(ctx).Model(&model.Record{}).
		Distinct("attributes->>? AS value", key).
		Where("kind = ? AND active = ? AND attributes->>? IS NOT NULL", kind, true, key).
		Pluck("value", &values).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	filtered := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	klog.Warnw("index store error", "error", err.Error())
	return errors.ErrStoreTimeout.WithCause(err)
}
