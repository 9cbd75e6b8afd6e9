package model

import "time"

// Platform identifies the channel a conversation is happening on.
type Platform string

const (
	PlatformWeb      Platform = "web"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTest     Platform = "test"
)

// ConversationStatus is the lifecycle state of a Conversation.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusEnded     ConversationStatus = "ended"
	StatusAbandoned ConversationStatus = "abandoned"
)

// Conversation is one session between a user and the assistant on a
// given platform.
type Conversation struct {
	ConversationID string `gorm:"primaryKey"`
	UserID         string `gorm:"index:idx_user_platform"`
	Platform       Platform `gorm:"index:idx_user_platform"`

	StartedAt time.Time
	EndedAt   *time.Time
	Status    ConversationStatus `gorm:"index"`

	MessagesCount      int
	UserMessagesCount  int
	BotMessagesCount   int
	AvgResponseTimeMs  float64

	// RefineCount tracks C9's refinement counter across turns; reset to
	// zero whenever the validator returns Answer (resolution of the
	// "inconsistent reset" open question).
	RefineCount int

	// ConsecutiveFailures counts consecutive answer_failed turns used by
	// C9's escalation rule.
	ConsecutiveFailures int

	Locale string
}

func (Conversation) TableName() string { return "conversations" }

// Sender identifies who authored a Message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// Message is one turn's utterance or reply.
type Message struct {
	MessageID      string `gorm:"primaryKey"`
	ConversationID string `gorm:"index"`
	Sender         Sender

	Content         string
	Intent          string
	Entities        Attributes `gorm:"serializer:json"`
	Confidence      float64
	ResponseTimeMs  int64
	ToolsUsed       []string `gorm:"serializer:json"`

	CreatedAt time.Time `gorm:"index"`
}

func (Message) TableName() string { return "messages" }

// SessionPointer maps a (user, platform) pair to its currently active
// conversation (C12's in-memory/durable routing table).
type SessionPointer struct {
	UserID         string   `gorm:"primaryKey"`
	Platform       Platform `gorm:"primaryKey"`
	ConversationID string
	LastActivityAt time.Time
}

func (SessionPointer) TableName() string { return "session_pointers" }
