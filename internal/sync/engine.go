// Package sync implements the Sync Engine (C5): reconciling the Index
// Store against the upstream catalog, and draining webhook-driven
// incremental changes.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"

	"github.com/kart-io/assist-x/internal/catalog"
	"github.com/kart-io/assist-x/internal/embedclient"
	"github.com/kart-io/assist-x/internal/index"
	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
	"gorm.io/gorm"
)

// BatchSize is the upsert batch size.
const BatchSize = 100

// DefaultQueueCapacity bounds the PendingChange queue.
const DefaultQueueCapacity = 10000

// TaskTypeDrainPending is the asynq task type for draining one pending
// change.
const TaskTypeDrainPending = "sync:drain_pending"

// Engine is the C5 contract.
type Engine struct {
	catalog  catalog.Client
	store    index.Store
	embedder embedclient.Client
	db       *gorm.DB
	redis    *redis.Client
	asynq    *asynq.Client

	queueCapacity int
}

// New creates an Engine.
func New(cat catalog.Client, store index.Store, embedder embedclient.Client, db *gorm.DB, rdb *redis.Client, asynqClient *asynq.Client) *Engine {
	return &Engine{
		catalog: cat, store: store, embedder: embedder,
		db: db, redis: rdb, asynq: asynqClient,
		queueCapacity: DefaultQueueCapacity,
	}
}

func cursorKey(kind model.Kind) string { return "sync:cursor:" + string(kind) }

// Reconcile runs the full diff-and-apply algorithm.
func (e *Engine) Reconcile(ctx context.Context, kind model.Kind) error {
	upstream, err := e.fetchAllSince(ctx, kind)
	if err != nil {
		return errors.ErrReconcileFailed.WithCause(err)
	}

	indexed, err := e.store.ListIDs(ctx, kind)
	if err != nil {
		return errors.ErrReconcileFailed.WithCause(err)
	}
	indexedByID := make(map[string]index.IDStatus, len(indexed))
	for _, s := range indexed {
		indexedByID[s.ID] = s
	}

	upstreamIDs := make(map[string]struct{}, len(upstream))
	var toUpsert []*model.Record
	for _, rec := range upstream {
		upstreamIDs[rec.ID] = struct{}{}
		existing, ok := indexedByID[rec.ID]
		rec.ContentHash = index.ContentHash(rec.Title, rec.Body, rec.Attributes)
		if !ok || existing.ContentHash != rec.ContentHash || !existing.Active {
			toUpsert = append(toUpsert, rec)
		}
	}

	var toDelete []string
	for id, s := range indexedByID {
		if !s.Active {
			continue
		}
		if _, ok := upstreamIDs[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}

	if err := e.applyUpserts(ctx, toUpsert); err != nil {
		return errors.ErrReconcileFailed.WithCause(err)
	}
	for _, id := range toDelete {
		if err := e.store.SoftDelete(ctx, id); err != nil {
			return errors.ErrReconcileFailed.WithCause(err)
		}
	}

	klog.Infow("reconcile completed", "kind", string(kind), "upserted", len(toUpsert), "deleted", len(toDelete))

	if e.redis != nil {
		e.redis.Set(ctx, cursorKey(kind)+":done_at", time.Now().Format(time.RFC3339), 0)
	}
	return nil
}

func (e *Engine) fetchAllSince(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	cursor := ""
	if e.redis != nil {
		cursor, _ = e.redis.Get(ctx, cursorKey(kind)).Result()
	}

	var out []*model.Record
	for {
		page, err := e.catalog.ListSince(ctx, kind, cursor)
		if err != nil {
			return nil, err
		}
		for _, u := range page.Items {
			out = append(out, normalize(kind, u))
		}
		if len(page.Items) == 0 || page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
		if e.redis != nil {
			e.redis.Set(ctx, cursorKey(kind), cursor, 0)
		}
	}
	return out, nil
}

// applyUpserts batches records into groups of BatchSize, embeds every
// record in each batch, and upserts. It does not compare content
// hashes: Reconcile passes only new, changed or inactive records, while
// DrainHandler and ApplyKnowledge embed every record they pass.
func (e *Engine) applyUpserts(ctx context.Context, records []*model.Record) error {
	for start := 0; start < len(records); start += BatchSize {
		end := min(start+BatchSize, len(records))
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.Title + "\n" + rec.Body
		}

		vecs, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}

		for i, rec := range batch {
			v := vecs[i]
			vec := pgvectorFrom(v)
			rec.DenseVector = vec
			if err := e.store.Upsert(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyKnowledge embeds and upserts knowledge records loaded from disk,
// reusing the same embed-and-upsert path as catalog reconciliation.
func (e *Engine) ApplyKnowledge(ctx context.Context, records []*model.Record) error {
	return e.applyUpserts(ctx, records)
}

// WebhookEvent is the payload of an upstream catalog event.
type WebhookEvent struct {
	Kind    model.Kind     `json:"kind"`
	Op      model.PendingOp `json:"op"`
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}

// OnUpstreamEvent enqueues a PendingChange and returns quickly
//. Overflow sheds the oldest
// unprocessed change and schedules a full reconcile.
func (e *Engine) OnUpstreamEvent(ctx context.Context, event WebhookEvent) error {
	var pending int64
	if err := e.db.WithContext(ctx).Model(&model.PendingChange{}).Where("processed = ?", false).Count(&pending).Error; err != nil {
		return errors.ErrReconcileFailed.WithCause(err)
	}
	if pending >= int64(e.queueCapacity) {
		klog.Warnw("pending change queue overflow, shedding oldest and scheduling full reconcile", "kind", string(event.Kind))
		var oldest model.PendingChange
		if err := e.db.WithContext(ctx).Where("processed = ?", false).Order("received_at ASC").First(&oldest).Error; err == nil {
			e.db.WithContext(ctx).Delete(&oldest)
		}
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			_ = e.Reconcile(bgCtx, event.Kind)
		}()
	}

	change := model.PendingChange{
		Kind: event.Kind, UpstreamID: event.ID, Op: event.Op,
		Payload: model.Attributes(event.Payload), ReceivedAt: time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(&change).Error; err != nil {
		return errors.ErrPendingQueueFull.WithCause(err)
	}

	if e.asynq != nil {
		payload, _ := json.Marshal(drainTaskPayload{ChangeID: change.ID})
		task := asynq.NewTask(TaskTypeDrainPending, payload)
		// TaskID keyed by upstream id enforces at-most-one-in-flight per id.
		_, err := e.asynq.EnqueueContext(ctx, task,
			asynq.TaskID(fmt.Sprintf("%s:%s", event.Kind, event.ID)),
			asynq.MaxRetry(5),
		)
		if err != nil && err != asynq.ErrTaskIDConflict {
			return errors.ErrPendingQueueFull.WithCause(err)
		}
	}
	return nil
}

type drainTaskPayload struct {
	ChangeID uint64 `json:"change_id"`
}

func pgvectorFrom(v []float32) *pgvector.Vector {
	vec := pgvector.NewVector(v)
	return &vec
}

// DrainHandler returns an asynq handler that applies one PendingChange
// using identical normalization/embedding logic to Reconcile.
func (e *Engine) DrainHandler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload drainTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		var change model.PendingChange
		if err := e.db.WithContext(ctx).First(&change, payload.ChangeID).Error; err != nil {
			return err
		}
		if change.Processed {
			return nil
		}

		switch change.Op {
		case model.PendingOpDelete:
			id := string(change.Kind) + ":" + change.UpstreamID
			if err := e.store.SoftDelete(ctx, id); err != nil {
				return err
			}
		default:
			rec := normalize(change.Kind, catalog.UpstreamRecord{
				ID: change.UpstreamID, UpdatedAt: time.Now(), Payload: change.Payload,
			})
			rec.ContentHash = index.ContentHash(rec.Title, rec.Body, rec.Attributes)
			if err := e.applyUpserts(ctx, []*model.Record{rec}); err != nil {
				return err
			}
		}

		change.Processed = true
		return e.db.WithContext(ctx).Save(&change).Error
	}
}
