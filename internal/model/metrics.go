package model

import "time"

// MetricsHourly is the per-(hour bucket, platform) aggregate.
type MetricsHourly struct {
	ID       uint64   `gorm:"primaryKey;autoIncrement"`
	Bucket   time.Time `gorm:"uniqueIndex:idx_hourly_bucket_platform"`
	Platform Platform  `gorm:"uniqueIndex:idx_hourly_bucket_platform"`

	Conversations    int64
	UserMessages     int64
	BotMessages      int64
	Escalations      int64
	Refinements      int64
	AvgResponseTimeMs float64
}

func (MetricsHourly) TableName() string { return "metrics_hourly" }

// MetricsDaily is the per-(day bucket, platform) aggregate.
type MetricsDaily struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement"`
	Bucket   time.Time `gorm:"uniqueIndex:idx_daily_bucket_platform"`
	Platform Platform  `gorm:"uniqueIndex:idx_daily_bucket_platform"`

	Conversations     int64
	UserMessages      int64
	BotMessages       int64
	Escalations       int64
	Refinements       int64
	AvgResponseTimeMs float64
}

func (MetricsDaily) TableName() string { return "metrics_daily" }

// PendingOp is the operation carried by a PendingChange.
type PendingOp string

const (
	PendingOpUpsert PendingOp = "upsert"
	PendingOpDelete PendingOp = "delete"
)

// PendingChange is a queued upstream mutation awaiting the background
// drain worker (C5 webhook path).
type PendingChange struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Kind       Kind
	UpstreamID string
	Op         PendingOp
	Payload    Attributes `gorm:"serializer:json"`
	ReceivedAt time.Time
	Processed  bool `gorm:"index"`
}

func (PendingChange) TableName() string { return "pending_changes" }
