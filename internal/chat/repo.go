package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) ListSessions(ctx context.Context, userID uint64, limit, offset int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SaveSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// DeleteSession removes the session row and its messages. Summaries and
// session-scoped notes are the caller's cascade.
func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Message{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Session{}).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListRecentMessagesDesc returns the most recent messages, newest first.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns messages in DESC id order (newest -> oldest) for
// paging with before_id.
func (r *Repo) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var out []Message
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessageRange returns messages [start, end) by append order, oldest
// first. Messages are append-only, so offsets are stable.
func (r *Repo) ListMessageRange(ctx context.Context, sessionID string, start, end int) ([]Message, error) {
	if end <= start {
		return nil, nil
	}
	var out []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Offset(start).
		Limit(end - start).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecordTurn bumps the session's token total and activity timestamp after a
// successful turn.
func (r *Repo) RecordTurn(ctx context.Context, sessionID string, tokensUsed int, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"total_tokens_used": gorm.Expr("total_tokens_used + ?", tokensUsed),
			"last_activity":     at,
		}).Error
}

// AdvanceCompactionMarker moves the compacted-batches counter from one
// value to the next in a single conditional update, so two concurrent
// compactions cannot both claim the same batch.
func (r *Repo) AdvanceCompactionMarker(ctx context.Context, sessionID string, from, to int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND compacted_batches = ?", sessionID, from).
		Update("compacted_batches", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateState persists the session's embedded state columns only.
func (r *Repo) UpdateState(ctx context.Context, sessionID string, state SessionState) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"state_mood":               state.Mood,
			"state_relationship_level": state.RelationshipLevel,
			"state_scene":              state.Scene,
			"state_progress_counter":   state.ProgressCounter,
			"state_last_scene_summary": state.LastSceneSummary,
		}).Error
}
