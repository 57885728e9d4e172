package catalog

import (
	"context"

	"gorm.io/gorm"
)

// Repo is the read-only catalog access the turn pipeline needs. Writes
// belong to the character/world management surface.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetCharacter(ctx context.Context, id uint64) (*Character, error) {
	var c Character
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetWorld(ctx context.Context, id uint64) (*World, error) {
	var w World
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repo) GetPersonaPreset(ctx context.Context, id uint64) (*PersonaPreset, error) {
	var p PersonaPreset
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
