package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hyunsoo-dev/persona-chat/internal/ai"
	"github.com/hyunsoo-dev/persona-chat/internal/memory"
	"github.com/hyunsoo-dev/persona-chat/internal/models"
)

// Guard is a cross-process claim on one compaction batch, typically backed
// by redis SETNX. A batch claim expiring before the batch completes is fine:
// the summary table's unique range index makes the retry a no-op.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type CompactorConfig struct {
	// BatchSize is how many messages make one summarized batch.
	BatchSize int
	// Provider and Model select the summarization model. Empty means use
	// the session's own provider.
	Provider string
	Model    string
}

// Compactor folds completed message batches into memory summaries. It is
// safe to run the same session from several processes at once: the guard,
// the unique summary range index, and the conditional marker advance each
// make duplicate work converge on a single stored summary.
type Compactor struct {
	repo     *Repo
	memory   *memory.Repo
	registry *ai.Registry
	guard    Guard
	cfg      CompactorConfig

	group singleflight.Group
}

func NewCompactor(repo *Repo, mem *memory.Repo, registry *ai.Registry, guard Guard, cfg CompactorConfig) *Compactor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Compactor{repo: repo, memory: mem, registry: registry, guard: guard, cfg: cfg}
}

// Run brings the session's compaction marker up to date. The expected batch
// count is re-derived from the live message count every time, so a batch
// that failed earlier is simply picked up again on a later run.
func (c *Compactor) Run(ctx context.Context, sessionID string) error {
	_, err, _ := c.group.Do(sessionID, func() (any, error) {
		return nil, c.run(ctx, sessionID)
	})
	return err
}

func (c *Compactor) run(ctx context.Context, sessionID string) error {
	sess, err := c.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	count, err := c.repo.CountMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	expected := count / c.cfg.BatchSize

	for batch := sess.CompactedBatches; batch < expected; batch++ {
		if err := c.compactBatch(ctx, sess, batch); err != nil {
			return fmt.Errorf("session %s batch %d: %w", sessionID, batch, err)
		}
	}
	return nil
}

func (c *Compactor) compactBatch(ctx context.Context, sess *Session, batch int) error {
	start := batch * c.cfg.BatchSize
	end := start + c.cfg.BatchSize

	if c.guard != nil {
		key := fmt.Sprintf("compaction:%s:%d", sess.SessionID, batch)
		ok, err := c.guard.Acquire(ctx, key, 5*time.Minute)
		if err != nil {
			// a dead guard store must not stall compaction forever
			log.Printf("compaction guard unavailable, proceeding unguarded: %v", err)
		} else if !ok {
			// another worker holds this batch; skip past it
			return nil
		} else {
			defer func() {
				if rerr := c.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
					log.Printf("compaction guard release failed: %v", rerr)
				}
			}()
		}
	}

	msgs, err := c.repo.ListMessageRange(ctx, sess.SessionID, start, end)
	if err != nil {
		return err
	}
	if len(msgs) < c.cfg.BatchSize {
		return fmt.Errorf("expected %d messages in range [%d,%d), got %d",
			c.cfg.BatchSize, start, end, len(msgs))
	}

	sm, err := c.summarize(ctx, sess, msgs)
	if err != nil {
		return err
	}
	sm.ID = uuid.NewString()
	sm.SessionID = sess.SessionID
	sm.StartIndex = start
	sm.EndIndex = end

	if err := c.memory.SaveSummary(ctx, sm); err != nil {
		return err
	}
	advanced, err := c.repo.AdvanceCompactionMarker(ctx, sess.SessionID, batch, batch+1)
	if err != nil {
		return err
	}
	if !advanced {
		log.Printf("session %s batch %d: marker already advanced elsewhere", sess.SessionID, batch)
	}
	return nil
}

const summarizerSystemPrompt = `You are a conversation summarizer for a roleplay chat platform.
Summarize the given conversation segment between a user and an AI character.
Respond with a single JSON object, no prose around it:
{
  "summary": "2-3 sentence summary of what happened",
  "key_events": ["notable events, at most 5"],
  "emotional_tone": "one or two words",
  "important_facts": ["facts worth remembering long-term, at most 5"]
}`

type summaryPayload struct {
	Summary        string   `json:"summary"`
	KeyEvents      []string `json:"key_events"`
	EmotionalTone  string   `json:"emotional_tone"`
	ImportantFacts []string `json:"important_facts"`
}

func (c *Compactor) summarize(ctx context.Context, sess *Session, msgs []Message) (*memory.Summary, error) {
	providerName, model := c.cfg.Provider, c.cfg.Model
	if providerName == "" {
		providerName, model = sess.Provider, sess.Model
	}
	provider, err := c.registry.Get(ctx, providerName, model)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, m := range msgs {
		who := "Character"
		if m.Sender == SenderUser {
			who = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", who, m.Content)
	}

	res, err := provider.Generate(ctx, summarizerSystemPrompt,
		[]ai.Message{{Role: "user", Content: sb.String()}})
	if err != nil {
		return nil, err
	}

	payload := parseSummaryPayload(res.Content)
	return &memory.Summary{
		SummaryText:    payload.Summary,
		KeyEvents:      models.StringList(payload.KeyEvents),
		EmotionalTone:  payload.EmotionalTone,
		ImportantFacts: models.StringList(payload.ImportantFacts),
	}, nil
}

// parseSummaryPayload tolerates fenced or prose-wrapped model output. When
// no JSON object can be recovered the raw text becomes the summary, which
// keeps a sloppy model from blocking compaction.
func parseSummaryPayload(raw string) summaryPayload {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			var p summaryPayload
			if err := json.Unmarshal([]byte(text[i:j+1]), &p); err == nil && p.Summary != "" {
				return p
			}
		}
	}
	return summaryPayload{Summary: text}
}

// AsyncTrigger runs the compactor in-process on a background goroutine.
// Deployments with a worker fleet use the queue-backed trigger instead.
type AsyncTrigger struct {
	compactor *Compactor
	timeout   time.Duration
}

func NewAsyncTrigger(c *Compactor) *AsyncTrigger {
	return &AsyncTrigger{compactor: c, timeout: 2 * time.Minute}
}

func (t *AsyncTrigger) Trigger(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.compactor.Run(ctx, sessionID); err != nil {
			// compaction failures never surface to the turn that queued them
			log.Printf("compaction for session %s failed: %v", sessionID, err)
		}
	}()
}
