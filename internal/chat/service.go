package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/ai"
	"github.com/hyunsoo-dev/persona-chat/internal/billing"
	"github.com/hyunsoo-dev/persona-chat/internal/catalog"
	"github.com/hyunsoo-dev/persona-chat/internal/memory"
	"github.com/hyunsoo-dev/persona-chat/internal/models"
	"github.com/hyunsoo-dev/persona-chat/internal/moderation"
	"github.com/hyunsoo-dev/persona-chat/internal/prompt"
)

// UserStore is the slice of the user repository the pipeline needs.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (*models.User, error)
	IncrementConversations(ctx context.Context, id uint64) error
}

// CompactionTrigger schedules a memory-compaction check for a session after
// a completed turn. Implementations must return without blocking the turn.
type CompactionTrigger interface {
	Trigger(sessionID string)
}

type Config struct {
	// ContextWindowSize is how many trailing raw messages go into the model
	// context.
	ContextWindowSize int
	// SummaryLimit is how many of the most recent memory summaries go into
	// the model context.
	SummaryLimit    int
	DefaultProvider string
	DefaultModel    string
}

type Service struct {
	repo       *Repo
	catalog    *catalog.Repo
	memory     *memory.Repo
	ledger     *billing.Ledger
	users      UserStore
	gate       *moderation.Gate
	registry   *ai.Registry
	compaction CompactionTrigger
	cfg        Config
}

func NewService(repo *Repo, cat *catalog.Repo, mem *memory.Repo, ledger *billing.Ledger,
	users UserStore, gate *moderation.Gate, registry *ai.Registry,
	compaction CompactionTrigger, cfg Config) *Service {

	if cfg.ContextWindowSize <= 0 {
		cfg.ContextWindowSize = 10
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = 3
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "openai"
	}
	return &Service{
		repo:       repo,
		catalog:    cat,
		memory:     mem,
		ledger:     ledger,
		users:      users,
		gate:       gate,
		registry:   registry,
		compaction: compaction,
		cfg:        cfg,
	}
}

type CreateSessionParams struct {
	CharacterID uint64      `json:"character_id"`
	PresetID    uint64      `json:"preset_id"`
	Provider    string      `json:"provider"`
	Model       string      `json:"model"`
	Mode        prompt.Mode `json:"mode"`
	Title       string      `json:"title"`
}

// CreateSession opens a new conversation with a character. Provider and
// model fall back to the character's defaults, then the platform defaults.
// If the character has a greeting, it is seeded as the first AI message so
// the conversation never opens on a blank screen.
func (s *Service) CreateSession(ctx context.Context, userID uint64, p CreateSessionParams) (*Session, error) {
	char, err := s.catalog.GetCharacter(ctx, p.CharacterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCharacterNotFound
		}
		return nil, err
	}
	if p.PresetID != 0 {
		if _, err := s.catalog.GetPersonaPreset(ctx, p.PresetID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrPresetNotFound
			}
			return nil, err
		}
	}

	provider := p.Provider
	if provider == "" {
		provider = char.DefaultProvider
	}
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	model := p.Model
	if model == "" {
		model = char.DefaultModel
	}
	if model == "" {
		model = s.cfg.DefaultModel
	}

	mode := p.Mode
	if mode == "" {
		mode = prompt.ModeChat
	}
	if !validMode(mode) {
		return nil, ErrInvalidMode
	}

	title := p.Title
	if title == "" {
		title = char.Name
	}

	sessionID, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		SessionID:    sessionID,
		UserID:       userID,
		CharacterID:  char.ID,
		PresetID:     p.PresetID,
		Provider:     provider,
		Model:        model,
		Mode:         mode,
		Title:        title,
		State:        SessionState{Mood: "calm", ProgressCounter: 1},
		LastActivity: now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if char.Greeting != "" {
		greeting := &Message{
			SessionID: sessionID,
			UserID:    userID,
			Sender:    SenderAI,
			Content:   char.Greeting,
		}
		if err := s.repo.InsertMessage(ctx, greeting); err != nil {
			return nil, err
		}
	}

	if err := s.users.IncrementConversations(ctx, userID); err != nil {
		log.Printf("session %s: conversation counter update failed: %v", sessionID, err)
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	return s.ownedSession(ctx, userID, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, userID uint64, limit, offset int) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID, limit, offset)
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

// DeleteSession removes the session with its messages, memory summaries,
// and session-scoped notes. Character-scoped notes survive.
func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.memory.DeleteNotesBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.memory.DeleteSummariesBySession(ctx, sessionID); err != nil {
		return err
	}
	return s.repo.DeleteSession(ctx, sessionID)
}

// ChangeModel switches an existing session to another provider and model.
// History and state carry over unchanged; only future turns are affected.
func (s *Service) ChangeModel(ctx context.Context, userID uint64, sessionID, provider, model string) (*Session, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	// constructing the provider validates the name before persisting it
	if _, err := s.registry.Get(ctx, provider, model); err != nil {
		return nil, err
	}
	sess.Provider = provider
	sess.Model = model
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) ChangeMode(ctx context.Context, userID uint64, sessionID string, mode prompt.Mode) (*Session, error) {
	if !validMode(mode) {
		return nil, ErrInvalidMode
	}
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Mode = mode
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) RenameSession(ctx context.Context, userID uint64, sessionID, title string) (*Session, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Title = title
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func validMode(m prompt.Mode) bool {
	switch m {
	case prompt.ModeStory, prompt.ModeChat, prompt.ModeCreatorDebug:
		return true
	}
	return false
}

// TurnResult is one completed conversational turn.
type TurnResult struct {
	Session          *Session `json:"session"`
	Message          *Message `json:"message"`
	SuggestedReplies []string `json:"suggested_replies,omitempty"`
	TokensUsed       int      `json:"tokens_used"`
	TokenCost        float64  `json:"token_cost"`
}

// turn carries the per-turn working set between the prepare and finish
// halves of the pipeline, so the blocking and streaming paths share them.
type turn struct {
	sess      *Session
	user      *models.User
	character *catalog.Character
	tier      moderation.Tier
	pctx      prompt.Context
	provider  ai.Provider
}

// SendMessage runs one full turn: moderation, balance check, context
// assembly, generation, output moderation, metering, and persistence.
func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID, text string) (*TurnResult, error) {
	t, err := s.prepareTurn(ctx, userID, sessionID, text)
	if err != nil {
		return nil, err
	}
	res, err := t.provider.Generate(ctx, t.pctx.SystemPrompt, t.pctx.Messages)
	if err != nil {
		return nil, err
	}
	return s.finishTurn(ctx, t, res.Content, res.TokensUsed, time.Now())
}

type EventType string

const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one streaming turn notification. A done or error event is
// terminal; no further events follow it.
type Event struct {
	Type             EventType `json:"type"`
	Content          string    `json:"content,omitempty"`
	TokensUsed       int       `json:"tokens_used,omitempty"`
	TokenCost        float64   `json:"token_cost,omitempty"`
	SuggestedReplies []string  `json:"suggested_replies,omitempty"`
	Err              error     `json:"-"`
}

// StreamMessage runs the same turn pipeline as SendMessage but forwards
// chunks as they arrive. Metering and persistence run once, on the
// accumulated reply, after the stream completes. If the caller goes away
// mid-stream the partial reply is discarded and nothing is charged.
func (s *Service) StreamMessage(ctx context.Context, userID uint64, sessionID, text string) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		t, err := s.prepareTurn(ctx, userID, sessionID, text)
		if err != nil {
			s.emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}

		sp, ok := t.provider.(ai.StreamProvider)
		if !ok {
			s.emit(ctx, out, Event{Type: EventError,
				Err: fmt.Errorf("provider %q does not support streaming", t.sess.Provider)})
			return
		}

		chunks, errs := sp.GenerateStream(ctx, t.pctx.SystemPrompt, t.pctx.Messages)
		var sb strings.Builder
		for chunk := range chunks {
			sb.WriteString(chunk)
			if !s.emit(ctx, out, Event{Type: EventChunk, Content: chunk}) {
				return
			}
		}
		if err := <-errs; err != nil {
			s.emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}
		if ctx.Err() != nil {
			return
		}

		full := sb.String()
		// streamed completions carry no usage block
		result, err := s.finishTurn(ctx, t, full, ai.EstimateTokens(full), time.Now())
		if err != nil {
			s.emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}
		s.emit(ctx, out, Event{
			Type:             EventDone,
			Content:          result.Message.Content,
			TokensUsed:       result.TokensUsed,
			TokenCost:        result.TokenCost,
			SuggestedReplies: result.SuggestedReplies,
		})
	}()
	return out
}

func (s *Service) emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// prepareTurn runs every pipeline stage up to the provider call:
//  1. verify session ownership
//  2. moderate the input at the user's trust tier
//  3. check the minimum balance, so an empty wallet never reaches a provider
//  4. assemble the model context from the pre-turn history
//  5. persist the user message
func (s *Service) prepareTurn(ctx context.Context, userID uint64, sessionID, text string) (*turn, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier := moderation.TierMinor
	if user.AdultVerified {
		tier = moderation.TierVerified
	}

	if verdict := s.gate.Evaluate(ctx, text, tier); verdict.Blocked {
		return nil, &ContentRejectedError{Reason: verdict.Reason, Category: verdict.Category}
	}

	ok, err := s.ledger.HasBalance(ctx, userID, billing.MinTurnCost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, billing.ErrInsufficientBalance
	}

	char, pctx, err := s.assembleContext(ctx, sess, text)
	if err != nil {
		return nil, err
	}

	provider, err := s.registry.Get(ctx, sess.Provider, sess.Model)
	if err != nil {
		return nil, err
	}

	userMsg := &Message{
		SessionID:  sessionID,
		UserID:     userID,
		Sender:     SenderUser,
		Content:    text,
		TokensUsed: ai.EstimateTokens(text),
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	return &turn{
		sess:      sess,
		user:      user,
		character: char,
		tier:      tier,
		pctx:      pctx,
		provider:  provider,
	}, nil
}

// assembleContext gathers character sheet, world, persona preset, session
// state, memory summaries, context notes, and the trailing message window,
// and builds the model input. The window is read before the new user
// message is persisted, so the message never appears twice.
func (s *Service) assembleContext(ctx context.Context, sess *Session, text string) (*catalog.Character, prompt.Context, error) {
	char, err := s.catalog.GetCharacter(ctx, sess.CharacterID)
	if err != nil {
		return nil, prompt.Context{}, err
	}

	params := prompt.Params{
		Character: prompt.CharacterData{
			Name:            char.Name,
			Description:     char.Description,
			Personality:     char.Personality,
			SpeakingStyle:   char.SpeakingStyle,
			AgeDisplay:      char.AgeDisplay,
			Species:         char.Species,
			Role:            char.Role,
			Appearance:      char.Appearance,
			PersonalityCore: char.PersonalityCore,
			BackgroundStory: char.BackgroundStory,
			Likes:           char.Likes,
			Dislikes:        char.Dislikes,
			Scenario:        char.Scenario,
		},
		State: &prompt.StateData{
			Mood:              sess.State.Mood,
			RelationshipLevel: sess.State.RelationshipLevel,
			Scene:             sess.State.Scene,
			LastSceneSummary:  sess.State.LastSceneSummary,
		},
		Mode:        sess.Mode,
		UserMessage: text,
	}

	if char.WorldID != 0 {
		world, err := s.catalog.GetWorld(ctx, char.WorldID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, prompt.Context{}, err
		}
		if world != nil {
			params.World = &prompt.WorldData{
				Name:        world.Name,
				Description: world.Description,
				Setting:     world.Setting,
				Rules:       world.Rules,
			}
		}
	}
	if sess.PresetID != 0 {
		preset, err := s.catalog.GetPersonaPreset(ctx, sess.PresetID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, prompt.Context{}, err
		}
		if preset != nil {
			params.Preset = &prompt.PresetData{
				Title:              preset.Title,
				RelationshipToUser: preset.RelationshipToUser,
				Mood:               preset.Mood,
				SpeakingTone:       preset.SpeakingTone,
				ScenarioIntro:      preset.ScenarioIntro,
				Rules:              preset.Rules,
			}
		}
	}

	summaries, err := s.memory.ListRecentSummaries(ctx, sess.SessionID, s.cfg.SummaryLimit)
	if err != nil {
		return nil, prompt.Context{}, err
	}
	// retrieval order is newest first; the prompt wants chronological
	for i := len(summaries) - 1; i >= 0; i-- {
		params.Summaries = append(params.Summaries, renderSummary(summaries[i]))
	}

	notes, err := s.memory.ListContextNotes(ctx, sess.UserID, sess.SessionID,
		strconv.FormatUint(sess.CharacterID, 10))
	if err != nil {
		return nil, prompt.Context{}, err
	}
	for _, n := range notes {
		params.Notes = append(params.Notes, renderNote(n))
	}

	recent, err := s.repo.ListRecentMessagesDesc(ctx, sess.SessionID, s.cfg.ContextWindowSize)
	if err != nil {
		return nil, prompt.Context{}, err
	}
	for i := len(recent) - 1; i >= 0; i-- {
		params.RecentMessages = append(params.RecentMessages, prompt.HistoryMessage{
			Sender:  recent[i].Sender,
			Content: recent[i].Content,
		})
	}

	return char, prompt.Build(params), nil
}

func renderSummary(sm memory.Summary) string {
	parts := []string{sm.SummaryText}
	if len(sm.KeyEvents) > 0 {
		parts = append(parts, "Key events: "+strings.Join(sm.KeyEvents, "; "))
	}
	if len(sm.ImportantFacts) > 0 {
		parts = append(parts, "Important facts: "+strings.Join(sm.ImportantFacts, "; "))
	}
	if sm.EmotionalTone != "" {
		parts = append(parts, "Tone: "+sm.EmotionalTone)
	}
	return strings.Join(parts, " ")
}

func renderNote(n memory.UserNote) string {
	if n.Category != "" {
		return "[" + n.Category + "] " + n.Content
	}
	return n.Content
}

// finishTurn runs every pipeline stage after the provider call:
//  6. moderate the model output; a blocked reply is never persisted
//  7. split off suggested replies when the mode asked for them
//  8. price the turn, debit the user, credit a qualifying creator
//  9. persist the AI message, roll up session totals
//  10. hand the session to the compaction trigger
func (s *Service) finishTurn(ctx context.Context, t *turn, content string, tokensUsed int, now time.Time) (*TurnResult, error) {
	if verdict := s.gate.Evaluate(ctx, content, t.tier); verdict.Blocked {
		return nil, &ContentRejectedError{Reason: verdict.Reason, Category: verdict.Category, Output: true}
	}

	reply := content
	var suggestions []string
	if t.pctx.IncludeSuggestions {
		reply, suggestions = prompt.ParseSuggestions(content)
	}
	if tokensUsed <= 0 {
		tokensUsed = ai.EstimateTokens(reply)
	}

	cost := billing.Cost(t.sess.Provider, tokensUsed, utf8.RuneCountInString(reply))
	if err := s.ledger.Debit(ctx, t.sess.UserID, cost); err != nil {
		return nil, err
	}

	if creator, err := s.users.GetByID(ctx, t.character.CreatorID); err != nil {
		log.Printf("session %s: creator %d lookup failed, earnings skipped: %v",
			t.sess.SessionID, t.character.CreatorID, err)
	} else if creator.CreatorTier.Qualifies() {
		if err := s.ledger.CreditCreator(ctx, creator.ID, t.character.ID, cost, billing.Period(now)); err != nil {
			// earnings are an accounting side effect, never a turn failure
			log.Printf("session %s: creator credit failed: %v", t.sess.SessionID, err)
		}
	}

	aiMsg := &Message{
		SessionID:        t.sess.SessionID,
		UserID:           t.sess.UserID,
		Sender:           SenderAI,
		Content:          reply,
		TokensUsed:       tokensUsed,
		SuggestedReplies: models.StringList(suggestions),
	}
	if err := s.repo.InsertMessage(ctx, aiMsg); err != nil {
		return nil, err
	}
	if err := s.repo.RecordTurn(ctx, t.sess.SessionID, tokensUsed, now); err != nil {
		return nil, err
	}
	t.sess.TotalTokensUsed += tokensUsed
	t.sess.LastActivity = now

	if s.compaction != nil {
		s.compaction.Trigger(t.sess.SessionID)
	}

	return &TurnResult{
		Session:          t.sess,
		Message:          aiMsg,
		SuggestedReplies: suggestions,
		TokensUsed:       tokensUsed,
		TokenCost:        cost,
	}, nil
}
