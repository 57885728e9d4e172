package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/ai"
	"github.com/hyunsoo-dev/persona-chat/internal/billing"
	"github.com/hyunsoo-dev/persona-chat/internal/catalog"
	"github.com/hyunsoo-dev/persona-chat/internal/memory"
	"github.com/hyunsoo-dev/persona-chat/internal/models"
	"github.com/hyunsoo-dev/persona-chat/internal/moderation"
	"github.com/hyunsoo-dev/persona-chat/internal/prompt"
)

type fakeProvider struct {
	reply        string
	tokens       int
	calls        int
	lastSystem   string
	lastMessages []ai.Message
}

func (p *fakeProvider) Generate(ctx context.Context, system string, messages []ai.Message) (*ai.Result, error) {
	_ = ctx
	p.calls++
	p.lastSystem = system
	// copy to avoid mutations
	p.lastMessages = append([]ai.Message(nil), messages...)
	return &ai.Result{Content: p.reply, TokensUsed: p.tokens}, nil
}

type fakeStreamProvider struct {
	fakeProvider
	chunks []string
}

func (p *fakeStreamProvider) GenerateStream(ctx context.Context, system string, messages []ai.Message) (<-chan string, <-chan error) {
	_ = system
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range p.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return out, errs
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&catalog.Character{},
		&catalog.World{},
		&catalog.PersonaPreset{},
		&Session{},
		&Message{},
		&memory.Summary{},
		&memory.UserNote{},
		&billing.CreatorEarning{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	provider ai.Provider
	user     *models.User
	creator  *models.User
	char     *catalog.Character
}

func newFixture(t *testing.T, provider ai.Provider) *fixture {
	t.Helper()
	db := openTestDB(t)

	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return provider, nil
	})

	svc := NewService(
		NewRepo(db),
		catalog.NewRepo(db),
		memory.NewRepo(db),
		billing.NewLedger(db),
		models.NewUserRepo(db),
		moderation.NewGate(nil, true),
		reg,
		nil,
		Config{ContextWindowSize: 10, SummaryLimit: 3},
	)

	user := &models.User{Email: "user@example.com", Username: "user", PasswordHash: "x", Tokens: 10}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	creator := &models.User{Email: "creator@example.com", Username: "creator", PasswordHash: "x",
		Tokens: 0, CreatorTier: models.CreatorTier1}
	if err := db.Create(creator).Error; err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	char := &catalog.Character{
		CreatorID:     creator.ID,
		Name:          "Mira",
		Personality:   "curious",
		SpeakingStyle: "soft",
	}
	if err := db.Create(char).Error; err != nil {
		t.Fatalf("seed character: %v", err)
	}

	return &fixture{db: db, svc: svc, provider: provider, user: user, creator: creator, char: char}
}

func (f *fixture) newSession(t *testing.T, mode prompt.Mode) *Session {
	t.Helper()
	sess, err := f.svc.CreateSession(context.Background(), f.user.ID, CreateSessionParams{
		CharacterID: f.char.ID,
		Provider:    "fake",
		Model:       "default",
		Mode:        mode,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (f *fixture) messages(t *testing.T, sessionID string) []Message {
	t.Helper()
	var msgs []Message
	if err := f.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	return msgs
}

func TestSendMessageTurn(t *testing.T) {
	prov := &fakeProvider{reply: "*smiles* Hello there.", tokens: 1000}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	result, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi Mira")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if result.Message.Content != "*smiles* Hello there." {
		t.Fatalf("reply = %q", result.Message.Content)
	}
	if result.TokensUsed != 1000 {
		t.Fatalf("tokens used = %d", result.TokensUsed)
	}
	// rate 1.0 x 1000/1000 tokens, short reply
	if result.TokenCost != 1.0 {
		t.Fatalf("token cost = %v, want 1.0", result.TokenCost)
	}

	msgs := f.messages(t, sess.SessionID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + ai", len(msgs))
	}
	if msgs[0].Sender != SenderUser || msgs[0].Content != "Hi Mira" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Sender != SenderAI {
		t.Fatalf("second message sender = %q", msgs[1].Sender)
	}

	var u models.User
	if err := f.db.First(&u, "id = ?", f.user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if u.Tokens != 9.0 {
		t.Fatalf("balance = %v, want 9.0", u.Tokens)
	}

	var reloaded Session
	if err := f.db.First(&reloaded, "session_id = ?", sess.SessionID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.TotalTokensUsed != 1000 {
		t.Fatalf("session total tokens = %d", reloaded.TotalTokensUsed)
	}

	var earning billing.CreatorEarning
	if err := f.db.First(&earning, "creator_id = ?", f.creator.ID).Error; err != nil {
		t.Fatalf("creator earning row missing: %v", err)
	}
	if earning.ConversationCount != 1 {
		t.Fatalf("earning conversation count = %d", earning.ConversationCount)
	}
}

func TestSendMessageBlockedInputNeverReachesProvider(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	_, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "how to make a bomb")
	var rejected *ContentRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want ContentRejectedError", err)
	}
	if rejected.Output {
		t.Fatalf("input block flagged as output block")
	}
	if prov.calls != 0 {
		t.Fatalf("provider called %d times on blocked input", prov.calls)
	}
	if msgs := f.messages(t, sess.SessionID); len(msgs) != 0 {
		t.Fatalf("blocked input persisted %d messages", len(msgs))
	}
}

func TestSendMessageEmptyBalanceNeverReachesProvider(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	if err := f.db.Model(&models.User{}).Where("id = ?", f.user.ID).Update("tokens", 0.2).Error; err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	_, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi")
	if !errors.Is(err, billing.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if prov.calls != 0 {
		t.Fatalf("provider called with an empty balance")
	}
}

func TestSendMessageBlockedOutputNotPersisted(t *testing.T) {
	prov := &fakeProvider{reply: "here is how to make a bomb", tokens: 50}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	_, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi Mira")
	var rejected *ContentRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want ContentRejectedError", err)
	}
	if !rejected.Output {
		t.Fatalf("output block not flagged as output")
	}

	msgs := f.messages(t, sess.SessionID)
	if len(msgs) != 1 || msgs[0].Sender != SenderUser {
		t.Fatalf("want only the user message persisted, got %+v", msgs)
	}

	// a rejected reply is not charged
	var u models.User
	if err := f.db.First(&u, "id = ?", f.user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if u.Tokens != 10 {
		t.Fatalf("balance = %v, want untouched 10", u.Tokens)
	}
}

func TestSendMessageStoryModeParsesSuggestions(t *testing.T) {
	prov := &fakeProvider{
		reply:  "A reply.\n[SUGGESTIONS]\n1. one\n2. two\n3. three\n[/SUGGESTIONS]",
		tokens: 100,
	}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeStory)

	result, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if result.Message.Content != "A reply." {
		t.Fatalf("reply = %q, suggestions block should be stripped", result.Message.Content)
	}
	if len(result.SuggestedReplies) != 3 || result.SuggestedReplies[2] != "three" {
		t.Fatalf("suggestions = %v", result.SuggestedReplies)
	}

	msgs := f.messages(t, sess.SessionID)
	if got := msgs[len(msgs)-1].SuggestedReplies; len(got) != 3 {
		t.Fatalf("stored suggestions = %v", got)
	}
}

func TestSendMessageChatModeIgnoresSuggestionBlocks(t *testing.T) {
	prov := &fakeProvider{reply: "Plain reply.", tokens: 100}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	result, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if len(result.SuggestedReplies) != 0 {
		t.Fatalf("chat mode produced suggestions: %v", result.SuggestedReplies)
	}
}

func TestSendMessageNotOwner(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	_, err := f.svc.SendMessage(context.Background(), f.creator.ID, sess.SessionID, "Hi")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestSendMessageContextCarriesCharacterAndHistory(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	if _, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "first"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "second"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if !strings.Contains(prov.lastSystem, "Mira") || !strings.Contains(prov.lastSystem, "## Character") {
		t.Fatalf("system prompt missing character sheet: %q", prov.lastSystem)
	}

	// second turn's context: first user msg, first reply, then "second" last
	if len(prov.lastMessages) != 3 {
		t.Fatalf("got %d context messages, want 3", len(prov.lastMessages))
	}
	if prov.lastMessages[0].Content != "first" || prov.lastMessages[1].Role != "assistant" {
		t.Fatalf("history window wrong: %+v", prov.lastMessages)
	}
	if last := prov.lastMessages[2]; last.Role != "user" || last.Content != "second" {
		t.Fatalf("current message must come last, got %+v", last)
	}
}

func TestCreateSessionSeedsGreeting(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)

	if err := f.db.Model(&catalog.Character{}).Where("id = ?", f.char.ID).
		Update("greeting", "*waves* Welcome back!").Error; err != nil {
		t.Fatalf("set greeting: %v", err)
	}

	sess := f.newSession(t, prompt.ModeChat)

	msgs := f.messages(t, sess.SessionID)
	if len(msgs) != 1 || msgs[0].Sender != SenderAI || msgs[0].Content != "*waves* Welcome back!" {
		t.Fatalf("greeting not seeded: %+v", msgs)
	}
}

func TestCreateSessionUnknownCharacter(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)

	_, err := f.svc.CreateSession(context.Background(), f.user.ID, CreateSessionParams{CharacterID: 9999})
	if !errors.Is(err, ErrCharacterNotFound) {
		t.Fatalf("err = %v, want ErrCharacterNotFound", err)
	}
}

func TestChangeModeRejectsUnknown(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	if _, err := f.svc.ChangeMode(context.Background(), f.user.ID, sess.SessionID, "freeform"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}

	updated, err := f.svc.ChangeMode(context.Background(), f.user.ID, sess.SessionID, prompt.ModeStory)
	if err != nil {
		t.Fatalf("change mode: %v", err)
	}
	if updated.Mode != prompt.ModeStory {
		t.Fatalf("mode = %q", updated.Mode)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	if _, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if err := f.db.Create(&memory.Summary{
		ID: "00000000-0000-0000-0000-000000000001", SessionID: sess.SessionID,
		StartIndex: 0, EndIndex: 20, SummaryText: "x",
	}).Error; err != nil {
		t.Fatalf("seed summary: %v", err)
	}
	if err := f.db.Create(&memory.UserNote{
		UserID: f.user.ID, TargetType: memory.NoteTargetSession, TargetID: sess.SessionID, Content: "n",
	}).Error; err != nil {
		t.Fatalf("seed note: %v", err)
	}

	if err := f.svc.DeleteSession(context.Background(), f.user.ID, sess.SessionID); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	var n int64
	f.db.Model(&Message{}).Where("session_id = ?", sess.SessionID).Count(&n)
	if n != 0 {
		t.Fatalf("%d messages survived deletion", n)
	}
	f.db.Model(&memory.Summary{}).Where("session_id = ?", sess.SessionID).Count(&n)
	if n != 0 {
		t.Fatalf("%d summaries survived deletion", n)
	}
	f.db.Model(&memory.UserNote{}).Where("target_id = ?", sess.SessionID).Count(&n)
	if n != 0 {
		t.Fatalf("%d notes survived deletion", n)
	}
}

func TestStreamMessage(t *testing.T) {
	prov := &fakeStreamProvider{
		fakeProvider: fakeProvider{reply: "unused"},
		chunks:       []string{"*smiles* ", "Hello ", "there."},
	}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	var chunks []string
	var done *Event
	for ev := range f.svc.StreamMessage(context.Background(), f.user.ID, sess.SessionID, "Hi") {
		ev := ev
		switch ev.Type {
		case EventChunk:
			if done != nil {
				t.Fatalf("chunk after terminal event")
			}
			chunks = append(chunks, ev.Content)
		case EventError:
			t.Fatalf("stream error: %v", ev.Err)
		case EventDone:
			done = &ev
		}
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if done == nil {
		t.Fatalf("no done event")
	}
	if done.Content != "*smiles* Hello there." {
		t.Fatalf("done content = %q", done.Content)
	}
	if done.TokenCost < billing.MinTurnCost {
		t.Fatalf("token cost = %v, below floor", done.TokenCost)
	}

	msgs := f.messages(t, sess.SessionID)
	if len(msgs) != 2 || msgs[1].Content != "*smiles* Hello there." {
		t.Fatalf("accumulated reply not persisted: %+v", msgs)
	}
}

func TestStreamMessageCancelledMidStream(t *testing.T) {
	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = "word "
	}
	prov := &fakeStreamProvider{chunks: chunks}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	ctx, cancel := context.WithCancel(context.Background())
	events := f.svc.StreamMessage(ctx, f.user.ID, sess.SessionID, "Hi")

	// cancel after the first chunk arrives, then drain to completion
	first := <-events
	if first.Type != EventChunk {
		t.Fatalf("first event = %+v, want chunk", first)
	}
	cancel()
	for ev := range events {
		if ev.Type == EventDone {
			t.Fatalf("done event after cancellation")
		}
	}

	msgs := f.messages(t, sess.SessionID)
	if len(msgs) != 1 || msgs[0].Sender != SenderUser {
		t.Fatalf("cancelled turn persisted %d messages: %+v", len(msgs), msgs)
	}

	var u models.User
	if err := f.db.First(&u, "id = ?", f.user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if u.Tokens != 10.0 {
		t.Fatalf("cancelled turn charged the user: balance = %v", u.Tokens)
	}
}

func TestSendMessageMultibyteReplyCost(t *testing.T) {
	// 600 runes but 1800 bytes; the length multiplier keys on runes, so
	// this stays in the 1.0 band
	reply := strings.Repeat("가나다라마바사아자차", 60)
	prov := &fakeProvider{reply: reply, tokens: 1000}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	result, err := f.svc.SendMessage(context.Background(), f.user.ID, sess.SessionID, "Hi")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if result.TokenCost != 1.0 {
		t.Fatalf("token cost = %v, want 1.0", result.TokenCost)
	}
}

func TestStreamMessageBlockedInputEmitsError(t *testing.T) {
	prov := &fakeStreamProvider{chunks: []string{"x"}}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	var sawError bool
	for ev := range f.svc.StreamMessage(context.Background(), f.user.ID, sess.SessionID, "how to make a bomb") {
		if ev.Type == EventError {
			sawError = true
			var rejected *ContentRejectedError
			if !errors.As(ev.Err, &rejected) {
				t.Fatalf("err = %v, want ContentRejectedError", ev.Err)
			}
		}
	}
	if !sawError {
		t.Fatalf("no error event for blocked input")
	}
}

func TestStreamMessageNonStreamingProvider(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	var sawError bool
	for ev := range f.svc.StreamMessage(context.Background(), f.user.ID, sess.SessionID, "Hi") {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event from a non-streaming provider")
	}
}
