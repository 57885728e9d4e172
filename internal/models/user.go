package models

import "time"

type CreatorTier int

const (
	CreatorTierNone CreatorTier = iota
	CreatorTier1
	CreatorTier2
	CreatorTier3
)

// Qualifies reports whether a creator at this tier receives a revenue share.
func (t CreatorTier) Qualifies() bool { return t >= CreatorTier1 }

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`

	// Tokens is the spendable balance, in platform token units. Turn costs
	// are fractional (one decimal place), so this is a float column.
	Tokens float64 `gorm:"not null;default:10" json:"tokens"`

	// AdultVerified selects the moderation trust tier: verified users get the
	// relaxed policy, everyone else the strict (minor) policy.
	AdultVerified bool `gorm:"not null;default:false" json:"adult_verified"`

	CreatorTier        CreatorTier `gorm:"not null;default:0" json:"creator_tier"`
	TotalConversations uint64      `gorm:"not null;default:0" json:"total_conversations"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
