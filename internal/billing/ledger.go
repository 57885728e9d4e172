package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hyunsoo-dev/persona-chat/internal/models"
)

var ErrInsufficientBalance = errors.New("insufficient token balance")

// CreatorShare is the fraction of each turn cost credited to a qualifying
// character creator.
const CreatorShare = 0.3

type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Debit subtracts cost from the user's balance. The check and decrement are
// one conditional UPDATE, so two concurrent turns can never both pass the
// balance check and drive the balance negative.
func (l *Ledger) Debit(ctx context.Context, userID uint64, cost float64) error {
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND tokens >= ?", userID, cost).
		Update("tokens", gorm.Expr("tokens - ?", cost))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// HasBalance reports whether the user can afford at least amount. Used as
// the pre-generation check so a user with an empty balance never incurs
// provider cost; the authoritative check is the conditional Debit.
func (l *Ledger) HasBalance(ctx context.Context, userID uint64, amount float64) (bool, error) {
	var user models.User
	if err := l.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return false, err
	}
	return user.Tokens >= amount, nil
}

// CreditCreator accumulates the revenue share for one turn into the
// (creator, character, period) bucket, creating the bucket lazily. Callers
// gate on the creator tier; this only does the arithmetic.
func (l *Ledger) CreditCreator(ctx context.Context, creatorID, characterID uint64, cost float64, period string) error {
	share := cost * CreatorShare
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "creator_id"}, {Name: "character_id"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]any{
				"conversation_count": gorm.Expr("conversation_count + 1"),
				"tokens_earned":      gorm.Expr("tokens_earned + ?", share),
			}),
		}).
		Create(&CreatorEarning{
			CreatorID:         creatorID,
			CharacterID:       characterID,
			Period:            period,
			ConversationCount: 1,
			TokensEarned:      share,
		}).Error
}

// ListEarnings returns a creator's earning buckets, newest period first.
// An empty period returns every period.
func (l *Ledger) ListEarnings(ctx context.Context, creatorID uint64, period string) ([]CreatorEarning, error) {
	q := l.db.WithContext(ctx).Where("creator_id = ?", creatorID)
	if period != "" {
		q = q.Where("period = ?", period)
	}
	var out []CreatorEarning
	if err := q.Order("period DESC, character_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Period returns the calendar-month bucket key for t, e.g. "2026-09".
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}
