package handlers

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/ai"
	"github.com/hyunsoo-dev/persona-chat/internal/billing"
	"github.com/hyunsoo-dev/persona-chat/internal/catalog"
	"github.com/hyunsoo-dev/persona-chat/internal/chat"
	"github.com/hyunsoo-dev/persona-chat/internal/config"
	"github.com/hyunsoo-dev/persona-chat/internal/memory"
	"github.com/hyunsoo-dev/persona-chat/internal/models"
	"github.com/hyunsoo-dev/persona-chat/internal/moderation"
	"github.com/hyunsoo-dev/persona-chat/internal/store/redisstore"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Redis   *redisstore.Store
	Users   *models.UserRepo
	Memory  *memory.Repo
	Ledger  *billing.Ledger
	ChatSvc *chat.Service
}

// NewHandler wires the turn pipeline. A nil trigger falls back to running
// compaction on an in-process goroutine, which is what single-binary
// deployments and tests want.
func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, trigger chat.CompactionTrigger) *Handler {
	chatRepo := chat.NewRepo(db)
	catalogRepo := catalog.NewRepo(db)
	memoryRepo := memory.NewRepo(db)
	userRepo := models.NewUserRepo(db)
	ledger := billing.NewLedger(db)

	registry := NewProviderRegistry(cfg)

	var classifier moderation.Classifier
	if cfg.ModerationAPIKey != "" {
		classifier = moderation.NewHTTPClassifier(cfg.ModerationURL, cfg.ModerationAPIKey)
	}
	gate := moderation.NewGate(classifier, cfg.ModerationFailOpen)

	if trigger == nil {
		var guard chat.Guard
		if rds != nil {
			guard = rds
		}
		compactor := chat.NewCompactor(chatRepo, memoryRepo, registry, guard, chat.CompactorConfig{
			BatchSize: cfg.CompactionBatchSize,
		})
		trigger = chat.NewAsyncTrigger(compactor)
	}

	chatSvc := chat.NewService(chatRepo, catalogRepo, memoryRepo, ledger, userRepo, gate, registry, trigger, chat.Config{
		ContextWindowSize: cfg.ChatContextWindowSize,
		SummaryLimit:      cfg.MemorySummaryLimit,
		DefaultModel:      cfg.OpenAIModel,
	})

	return &Handler{
		DB:      db,
		Cfg:     cfg,
		Redis:   rds,
		Users:   userRepo,
		Memory:  memoryRepo,
		Ledger:  ledger,
		ChatSvc: chatSvc,
	}
}

// NewProviderRegistry registers every configured provider. Sessions route
// by their stored provider name and model.
func NewProviderRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenAIModel
		}
		return ai.NewOpenAIProvider("openai", cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, m), nil
	})

	// grok speaks the openai wire format
	reg.Register("grok", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.GrokModel
		}
		return ai.NewOpenAIProvider("grok", cfg.GrokBaseURL, cfg.GrokAPIKey, m), nil
	})

	reg.Register("anthropic", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.AnthropicModel
		}
		return ai.NewAnthropicProvider(cfg.AnthropicAPIKey, m), nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	return reg
}
