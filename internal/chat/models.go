package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyunsoo-dev/persona-chat/internal/models"
	"github.com/hyunsoo-dev/persona-chat/internal/prompt"
)

// SessionState is the small bounded-attribute narrative record embedded in
// a session. It is mutated only through explicit partial updates; the
// pipeline itself never advances it.
type SessionState struct {
	Mood              string `gorm:"type:varchar(64);default:calm" json:"mood"`
	RelationshipLevel int    `gorm:"not null;default:0" json:"relationship_level"`
	Scene             string `gorm:"type:varchar(255)" json:"scene"`
	ProgressCounter   int    `gorm:"not null;default:1" json:"progress_counter"`
	LastSceneSummary  string `gorm:"type:text" json:"last_scene_summary"`
}

type Session struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	CharacterID uint64 `gorm:"index;not null" json:"character_id"`
	PresetID    uint64 `gorm:"index" json:"preset_id"`

	Provider string      `gorm:"type:varchar(32);not null" json:"provider"`
	Model    string      `gorm:"type:varchar(64);not null" json:"model"`
	Mode     prompt.Mode `gorm:"type:varchar(16);not null;default:chat" json:"mode"`

	Title string `gorm:"type:varchar(255)" json:"title"`

	State SessionState `gorm:"embedded;embeddedPrefix:state_" json:"state"`

	TotalTokensUsed int       `gorm:"not null;default:0" json:"total_tokens_used"`
	LastActivity    time.Time `json:"last_activity"`

	// CompactedBatches counts how many full compaction batches already have
	// a memory summary. The compactor re-derives the expected value from the
	// live message count, so a failed batch is retried on a later turn.
	CompactedBatches int `gorm:"not null;default:0" json:"compacted_batches"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Message is append-only: rows are never mutated after insert, and id order
// is the message order the compactor slices by.
type Message struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"type:varchar(26);not null;index:idx_msg_session_id" json:"session_id"`
	UserID    uint64 `gorm:"not null;index" json:"-"`

	Sender  string `gorm:"type:varchar(8);not null" json:"sender"`
	Content string `gorm:"type:text;not null" json:"content"`

	TokensUsed       int               `gorm:"not null;default:0" json:"tokens_used,omitempty"`
	SuggestedReplies models.StringList `gorm:"type:json" json:"suggested_replies,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

func NewSessionID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
