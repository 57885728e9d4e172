package billing

import "time"

// CreatorEarning is the (creator, character, period) revenue-share bucket.
// Period is a calendar-month key like "2026-09". Buckets accumulate
// additively and are marked settled by an external settlement process; the
// ledger never re-reads or decrements a settled bucket.
type CreatorEarning struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatorID   uint64 `gorm:"not null;uniqueIndex:uniq_earning_bucket,priority:1" json:"creator_id"`
	CharacterID uint64 `gorm:"not null;uniqueIndex:uniq_earning_bucket,priority:2" json:"character_id"`
	Period      string `gorm:"type:varchar(7);not null;uniqueIndex:uniq_earning_bucket,priority:3" json:"period"`

	ConversationCount uint64  `gorm:"not null;default:0" json:"conversation_count"`
	TokensEarned      float64 `gorm:"not null;default:0" json:"tokens_earned"`

	Settled   bool       `gorm:"not null;default:false" json:"settled"`
	SettledAt *time.Time `json:"settled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CreatorEarning) TableName() string { return "creator_earnings" }
