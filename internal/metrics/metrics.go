// Package metrics implements the Metrics Aggregator (C13): scheduled
// hourly/daily rollups and retention. It owns the two
// aggregate tables; apart from the retention sweep, which deletes
// expired messages, conversations and processed pending changes, it
// only reads the other tables.
package metrics

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
)

// Retention windows.
const (
	MessageRetention      = 7 * 24 * time.Hour
	ConversationRetention = 30 * 24 * time.Hour
	EventRetention        = 90 * 24 * time.Hour
)

// Aggregator is the C13 contract.
type Aggregator struct {
	db *gorm.DB
}

// New creates an Aggregator.
func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// AutoMigrate creates the aggregate tables and the pending_changes
// table.
func (a *Aggregator) AutoMigrate(ctx context.Context) error {
	return a.db.WithContext(ctx).AutoMigrate(&model.MetricsHourly{}, &model.MetricsDaily{}, &model.PendingChange{})
}

// AggregateHour computes and idempotently upserts the MetricsHourly row
// for [bucket, bucket+1h) and platform, keyed on (bucket, platform)
// uniqueness.
func (a *Aggregator) AggregateHour(ctx context.Context, bucket time.Time, platform model.Platform) error {
	bucket = bucket.Truncate(time.Hour)
	row, err := a.computeBucket(ctx, bucket, bucket.Add(time.Hour), platform)
	if err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	hourly := model.MetricsHourly{
		Bucket: bucket, Platform: platform,
		Conversations: row.conversations, UserMessages: row.userMessages, BotMessages: row.botMessages,
		Escalations: row.escalations, Refinements: row.refinements, AvgResponseTimeMs: row.avgResponseTimeMs,
	}
	return a.upsertHourly(ctx, &hourly)
}

// AggregateDay computes and idempotently upserts the MetricsDaily row
// for [date, date+24h) and platform.
func (a *Aggregator) AggregateDay(ctx context.Context, date time.Time, platform model.Platform) error {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	row, err := a.computeBucket(ctx, day, day.Add(24*time.Hour), platform)
	if err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	daily := model.MetricsDaily{
		Bucket: day, Platform: platform,
		Conversations: row.conversations, UserMessages: row.userMessages, BotMessages: row.botMessages,
		Escalations: row.escalations, Refinements: row.refinements, AvgResponseTimeMs: row.avgResponseTimeMs,
	}
	return a.upsertDaily(ctx, &daily)
}

type bucketRow struct {
	conversations     int64
	userMessages      int64
	botMessages       int64
	escalations       int64
	refinements       int64
	avgResponseTimeMs float64
}

func (a *Aggregator) computeBucket(ctx context.Context, from, to time.Time, platform model.Platform) (bucketRow, error) {
	var row bucketRow

	db := a.db.WithContext(ctx)

	var conversations []model.Conversation
	if err := db.Where("platform = ? AND started_at >= ? AND started_at < ?", platform, from, to).Find(&conversations).Error; err != nil {
		return row, err
	}
	row.conversations = int64(len(conversations))

	var totalResponse float64
	var respondedConvs int
	for _, c := range conversations {
		row.refinements += int64(c.RefineCount)
		if c.BotMessagesCount > 0 {
			totalResponse += c.AvgResponseTimeMs
			respondedConvs++
		}
	}
	if respondedConvs > 0 {
		row.avgResponseTimeMs = totalResponse / float64(respondedConvs)
	}

	var convIDs []string
	for _, c := range conversations {
		convIDs = append(convIDs, c.ConversationID)
	}
	if len(convIDs) > 0 {
		var userCount, botCount, escalationCount int64
		db.Model(&model.Message{}).Where("conversation_id IN ? AND sender = ?", convIDs, model.SenderUser).Count(&userCount)
		db.Model(&model.Message{}).Where("conversation_id IN ? AND sender = ?", convIDs, model.SenderBot).Count(&botCount)
		db.Model(&model.Message{}).Where("conversation_id IN ? AND intent = ?", convIDs, "escalation_request").Count(&escalationCount)
		row.userMessages = userCount
		row.botMessages = botCount
		row.escalations = escalationCount
	}

	return row, nil
}

func (a *Aggregator) upsertHourly(ctx context.Context, row *model.MetricsHourly) error {
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "platform"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	return nil
}

func (a *Aggregator) upsertDaily(ctx context.Context, row *model.MetricsDaily) error {
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "platform"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	return nil
}

// Retain runs the daily retention sweep. Aggregates are
// never deleted.
func (a *Aggregator) Retain(ctx context.Context, now time.Time) error {
	db := a.db.WithContext(ctx)

	if err := db.Where("created_at < ?", now.Add(-MessageRetention)).Delete(&model.Message{}).Error; err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	if err := db.Where("started_at < ?", now.Add(-ConversationRetention)).Delete(&model.Conversation{}).Error; err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	if err := db.Where("processed = ? AND received_at < ?", true, now.Add(-EventRetention)).Delete(&model.PendingChange{}).Error; err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}

	klog.Infow("retention sweep completed", "now", now)
	return nil
}
