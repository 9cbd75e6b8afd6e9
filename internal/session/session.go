// Package session implements the Session Store (C12): conversation
// lifecycle, durable message append, and session pointer tracking.
package session

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/oklog/ulid/v2"
)

// DefaultIdleThreshold is the inactivity window after which a
// conversation is no longer resumed.
const DefaultIdleThreshold = 30 * time.Minute

// Store is the C12 contract.
type Store interface {
	BeginOrResume(ctx context.Context, userID string, platform model.Platform, now time.Time) (*model.Conversation, error)
	AppendMessage(ctx context.Context, convID string, msg *model.Message) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListMessages(ctx context.Context, convID string, page, pageSize int) ([]model.Message, error)
	SearchConversations(ctx context.Context, userID string, platform model.Platform, page, pageSize int) ([]model.Conversation, error)
	UpdateCounters(ctx context.Context, convID string, refineCount, consecutiveFailures int) error
}

// GormStore is the gorm-backed C12 implementation, sharing the single
// relational store with the Index Store and Metrics Aggregator.
type GormStore struct {
	db            *gorm.DB
	idleThreshold time.Duration
}

// New creates a GormStore.
func New(db *gorm.DB, idleThreshold time.Duration) *GormStore {
	if idleThreshold == 0 {
		idleThreshold = DefaultIdleThreshold
	}
	return &GormStore{db: db, idleThreshold: idleThreshold}
}

// AutoMigrate creates the conversation/message/pointer tables.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.Conversation{}, &model.Message{}, &model.SessionPointer{})
}

// BeginOrResume implements the C12 lifecycle.
func (s *GormStore) BeginOrResume(ctx context.Context, userID string, platform model.Platform, now time.Time) (*model.Conversation, error) {
	var conv *model.Conversation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pointer model.SessionPointer
		err := tx.Where("user_id = ? AND platform = ?", userID, platform).First(&pointer).Error

		if err == nil && now.Sub(pointer.LastActivityAt) <= s.idleThreshold {
			var existing model.Conversation
			if err := tx.Where("conversation_id = ?", pointer.ConversationID).First(&existing).Error; err != nil {
				return err
			}
			conv = &existing
			pointer.LastActivityAt = now
			return tx.Save(&pointer).Error
		}

		if err == nil {
			var previous model.Conversation
			if lookupErr := tx.Where("conversation_id = ?", pointer.ConversationID).First(&previous).Error; lookupErr == nil {
				status := model.StatusAbandoned
				if previous.BotMessagesCount > 0 {
					status = model.StatusEnded
				}
				previous.Status = status
				ended := now
				previous.EndedAt = &ended
				if saveErr := tx.Save(&previous).Error; saveErr != nil {
					return saveErr
				}
			}
		} else if err != gorm.ErrRecordNotFound {
			return err
		}

		fresh := &model.Conversation{
			ConversationID: ulid.Make().String(),
			UserID:         userID,
			Platform:       platform,
			StartedAt:      now,
			Status:         model.StatusActive,
		}
		if err := tx.Create(fresh).Error; err != nil {
			return err
		}
		conv = fresh

		newPointer := model.SessionPointer{UserID: userID, Platform: platform, ConversationID: fresh.ConversationID, LastActivityAt: now}
		return tx.Save(&newPointer).Error
	})
	if err != nil {
		return nil, errors.ErrStoreTimeout.WithCause(err)
	}
	return conv, nil
}

// AppendMessage writes msg durably and updates running counters before
// the caller emits the corresponding outbound reply.
func (s *GormStore) AppendMessage(ctx context.Context, convID string, msg *model.Message) error {
	if msg.MessageID == "" {
		msg.MessageID = ulid.Make().String()
	}
	msg.ConversationID = convID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		var conv model.Conversation
		if err := tx.Where("conversation_id = ?", convID).First(&conv).Error; err != nil {
			return err
		}

		conv.MessagesCount++
		switch msg.Sender {
		case model.SenderUser:
			conv.UserMessagesCount++
		case model.SenderBot:
			conv.BotMessagesCount++
			// Running mean over bot messages only.
			n := float64(conv.BotMessagesCount)
			conv.AvgResponseTimeMs = conv.AvgResponseTimeMs + (float64(msg.ResponseTimeMs)-conv.AvgResponseTimeMs)/n
		}
		return tx.Save(&conv).Error
	})
	if err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	return nil
}

// GetConversation fetches one conversation by id.
func (s *GormStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("conversation_id = ?", id).First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.ErrStoreTimeout.WithCause(err)
	}
	return &conv, nil
}

// ListMessages pages through a conversation's messages in send order.
func (s *GormStore) ListMessages(ctx context.Context, convID string, page, pageSize int) ([]model.Message, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at ASC").
		Offset(page * pageSize).Limit(pageSize).
		Find(&msgs).Error
	if err != nil {
		return nil, errors.ErrStoreTimeout.WithCause(err)
	}
	return msgs, nil
}

// UpdateCounters persists C9/C10's per-turn RefineCount and
// ConsecutiveFailures onto the conversation.
func (s *GormStore) UpdateCounters(ctx context.Context, convID string, refineCount, consecutiveFailures int) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("conversation_id = ?", convID).
		Updates(map[string]any{"refine_count": refineCount, "consecutive_failures": consecutiveFailures}).Error
	if err != nil {
		return errors.ErrStoreTimeout.WithCause(err)
	}
	return nil
}

// SearchConversations pages through conversations for a user/platform.
func (s *GormStore) SearchConversations(ctx context.Context, userID string, platform model.Platform, page, pageSize int) ([]model.Conversation, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	q := s.db.WithContext(ctx).Model(&model.Conversation{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}
	var convs []model.Conversation
	err := q.Order("started_at DESC").Offset(page * pageSize).Limit(pageSize).Find(&convs).Error
	if err != nil {
		return nil, errors.ErrStoreTimeout.WithCause(err)
	}
	return convs, nil
}
