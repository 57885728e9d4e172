package catalog

import (
	"time"

	"github.com/hyunsoo-dev/persona-chat/internal/models"
)

// Character is a read-only input to the turn pipeline; characters are
// created and edited by the character-management surface, never here.
type Character struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatorID uint64 `gorm:"index;not null" json:"creator_id"`
	WorldID   uint64 `gorm:"index" json:"world_id"`

	Name          string `gorm:"type:varchar(128);not null" json:"name"`
	Description   string `gorm:"type:text" json:"description"`
	Personality   string `gorm:"type:text" json:"personality"`
	SpeakingStyle string `gorm:"type:text" json:"speaking_style"`
	AgeDisplay    string `gorm:"type:varchar(64)" json:"age_display"`
	Species       string `gorm:"type:varchar(64)" json:"species"`
	Role          string `gorm:"type:varchar(128)" json:"role"`
	Appearance    string `gorm:"type:text" json:"appearance"`

	// PersonalityCore, Likes and Dislikes are short keyword lists stored as
	// JSON arrays.
	PersonalityCore models.StringList `gorm:"type:json" json:"personality_core"`
	Likes           models.StringList `gorm:"type:json" json:"likes"`
	Dislikes        models.StringList `gorm:"type:json" json:"dislikes"`

	BackgroundStory string `gorm:"type:text" json:"background_story"`
	Greeting        string `gorm:"type:text" json:"greeting"`
	Scenario        string `gorm:"type:text" json:"scenario"`

	DefaultProvider string `gorm:"type:varchar(32)" json:"default_provider"`
	DefaultModel    string `gorm:"type:varchar(64)" json:"default_model"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Character) TableName() string { return "characters" }

type World struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Name        string     `gorm:"type:varchar(128);not null" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	Setting     string     `gorm:"type:text" json:"setting"`
	Rules       models.StringList `gorm:"type:json" json:"rules"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (World) TableName() string { return "worlds" }

// PersonaPreset overrides a character's relationship, mood, and rules for a
// specific session.
type PersonaPreset struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CharacterID uint64 `gorm:"index;not null" json:"character_id"`

	Title              string     `gorm:"type:varchar(128);not null" json:"title"`
	RelationshipToUser string     `gorm:"type:varchar(128)" json:"relationship_to_user"`
	Mood               string     `gorm:"type:varchar(64)" json:"mood"`
	SpeakingTone       string     `gorm:"type:text" json:"speaking_tone"`
	ScenarioIntro      string     `gorm:"type:text" json:"scenario_intro"`
	Rules              models.StringList `gorm:"type:json" json:"rules"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PersonaPreset) TableName() string { return "persona_presets" }
