package memory

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotOwner = errors.New("note does not belong to user")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// SaveSummary persists a compaction summary. The (session, start index)
// unique key absorbs concurrent attempts at the same range: the second
// writer is a no-op, never a duplicate row.
func (r *Repo) SaveSummary(ctx context.Context, s *Summary) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "start_index"}},
			DoNothing: true,
		}).
		Create(s).Error
}

// ListRecentSummaries returns up to limit summaries, newest range first.
func (r *Repo) ListRecentSummaries(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 3
	}
	var out []Summary
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("start_index DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) DeleteSummariesBySession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Summary{}).Error
}

// ---- user notes ----

func (r *Repo) CreateNote(ctx context.Context, n *UserNote) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *Repo) GetNote(ctx context.Context, id uint64) (*UserNote, error) {
	var n UserNote
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *Repo) UpdateNote(ctx context.Context, userID uint64, n *UserNote) error {
	if n.UserID != userID {
		return ErrNotOwner
	}
	return r.db.WithContext(ctx).Save(n).Error
}

func (r *Repo) DeleteNote(ctx context.Context, userID, id uint64) error {
	n, err := r.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return ErrNotOwner
	}
	return r.db.WithContext(ctx).Delete(&UserNote{}, "id = ?", id).Error
}

// ListNotes returns a user's notes for one target, pinned first.
func (r *Repo) ListNotes(ctx context.Context, userID uint64, target NoteTarget, targetID string) ([]UserNote, error) {
	var out []UserNote
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND target_type = ? AND target_id = ?", userID, target, targetID).
		Order("pinned DESC, created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListContextNotes returns the notes eligible for context assembly: owned by
// the user, include-in-context, targeting either the session or its
// character. Pinned notes sort first.
func (r *Repo) ListContextNotes(ctx context.Context, userID uint64, sessionID, characterID string) ([]UserNote, error) {
	var out []UserNote
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND include_in_context = ?", userID, true).
		Where(
			r.db.Where("target_type = ? AND target_id = ?", NoteTargetSession, sessionID).
				Or("target_type = ? AND target_id = ?", NoteTargetCharacter, characterID),
		).
		Order("pinned DESC, created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) DeleteNotesBySession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", NoteTargetSession, sessionID).
		Delete(&UserNote{}).Error
}
