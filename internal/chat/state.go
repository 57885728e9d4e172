package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// StateUpdate is a partial update: nil fields are left untouched. Numeric
// fields are clamped to their valid ranges on write.
type StateUpdate struct {
	Mood              *string `json:"mood"`
	RelationshipLevel *int    `json:"relationship_level"`
	Scene             *string `json:"scene"`
	ProgressCounter   *int    `json:"progress_counter"`
	LastSceneSummary  *string `json:"last_scene_summary"`
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Apply merges the update into state, clamping relationship level to 0..5
// and progress counter to 1..5.
func (u StateUpdate) Apply(state SessionState) SessionState {
	if u.Mood != nil {
		state.Mood = *u.Mood
	}
	if u.RelationshipLevel != nil {
		state.RelationshipLevel = clamp(*u.RelationshipLevel, 0, 5)
	}
	if u.Scene != nil {
		state.Scene = *u.Scene
	}
	if u.ProgressCounter != nil {
		state.ProgressCounter = clamp(*u.ProgressCounter, 1, 5)
	}
	if u.LastSceneSummary != nil {
		state.LastSceneSummary = *u.LastSceneSummary
	}
	return state
}

// UpdateSessionState applies a partial state update to an owned session.
func (s *Service) UpdateSessionState(ctx context.Context, userID uint64, sessionID string, update StateUpdate) (*Session, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	sess.State = update.Apply(sess.State)
	if err := s.repo.UpdateState(ctx, sessionID, sess.State); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) ownedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrPermissionDenied
	}
	return sess, nil
}
