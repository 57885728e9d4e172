package memory

import (
	"time"

	"github.com/hyunsoo-dev/persona-chat/internal/models"
)

// Summary is a durable digest of one compaction batch of raw messages.
// Summaries cover non-overlapping, contiguous index ranges; the unique
// (session_id, start_index) key makes concurrent compaction attempts for the
// same range collapse into one row. Immutable once written; deleted only
// with the session.
type Summary struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	SessionID string `gorm:"size:26;not null;index;uniqueIndex:uniq_summary_range,priority:1" json:"session_id"`

	// Message index range [StartIndex, EndIndex), in batch units.
	StartIndex int `gorm:"not null;uniqueIndex:uniq_summary_range,priority:2" json:"start_index"`
	EndIndex   int `gorm:"not null" json:"end_index"`

	SummaryText    string            `gorm:"type:text;not null" json:"summary_text"`
	KeyEvents      models.StringList `gorm:"type:json" json:"key_events"`
	EmotionalTone  string            `gorm:"type:varchar(64)" json:"emotional_tone"`
	ImportantFacts models.StringList `gorm:"type:json" json:"important_facts"`

	CreatedAt time.Time `json:"created_at"`
}

func (Summary) TableName() string { return "memory_summaries" }

type NoteTarget string

const (
	NoteTargetSession   NoteTarget = "session"
	NoteTargetCharacter NoteTarget = "character"
)

// UserNote is an owner-authored note injected into context assembly when
// IncludeInContext is set. Target is either a session or a character.
type UserNote struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"index;not null" json:"-"`

	TargetType NoteTarget `gorm:"type:varchar(16);index:idx_note_target,priority:1;not null" json:"target_type"`
	TargetID   string     `gorm:"size:26;index:idx_note_target,priority:2;not null" json:"target_id"`

	Content          string `gorm:"type:text;not null" json:"content"`
	Category         string `gorm:"type:varchar(64)" json:"category"`
	Pinned           bool   `gorm:"not null;default:false" json:"pinned"`
	IncludeInContext bool   `gorm:"not null;default:true" json:"include_in_context"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserNote) TableName() string { return "user_notes" }
