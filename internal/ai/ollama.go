package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// OllamaProvider talks to a local Ollama instance. Ollama reports eval
// counts, which we surface as token usage when present.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaChatResp struct {
	Message         ollamaMsg `json:"message"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
	Error           string    `json:"error,omitempty"`
}

type ollamaStreamResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OllamaProvider) messages(system string, messages []Message) []ollamaMsg {
	out := make([]ollamaMsg, 0, len(messages)+1)
	if system != "" {
		out = append(out, ollamaMsg{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, ollamaMsg{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *OllamaProvider) Generate(ctx context.Context, system string, messages []Message) (*Result, error) {
	b, err := json.Marshal(ollamaChatReq{
		Model:    p.Model,
		Stream:   false,
		Messages: p.messages(system, messages),
	})
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: err}
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: "ollama", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: err}
	}
	if decoded.Error != "" {
		return nil, &ProviderError{Provider: "ollama", Err: errors.New(decoded.Error)}
	}

	content := decoded.Message.Content
	tokens := decoded.PromptEvalCount + decoded.EvalCount
	if tokens == 0 {
		tokens = EstimateTokens(content)
	}
	return &Result{Content: content, TokensUsed: tokens}, nil
}

// GenerateStream streams assistant content chunks. Both channels are closed
// when streaming ends.
func (p *OllamaProvider) GenerateStream(ctx context.Context, system string, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		b, err := json.Marshal(ollamaChatReq{
			Model:    p.Model,
			Stream:   true,
			Messages: p.messages(system, messages),
		})
		if err != nil {
			errs <- &ProviderError{Provider: "ollama", Err: err}
			return
		}

		url := fmt.Sprintf("%s/api/chat", p.BaseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- &ProviderError{Provider: "ollama", Err: err}
			return
		}
		req.Header.Set("Content-Type", "application/json")

		// Streaming can outlive the default client timeout; ctx controls it.
		if p.Client.Timeout != 0 && p.Client.Timeout < 30*time.Second {
			p.Client.Timeout = 0
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- &ProviderError{Provider: "ollama", Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- &ProviderError{Provider: "ollama", Err: fmt.Errorf("status %d", resp.StatusCode)}
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- &ProviderError{Provider: "ollama", Err: err}
				return
			}
			if decoded.Error != "" {
				errs <- &ProviderError{Provider: "ollama", Err: errors.New(decoded.Error)}
				return
			}

			if decoded.Message.Content != "" {
				select {
				case chunks <- decoded.Message.Content:
				case <-ctx.Done():
					errs <- &ProviderError{Provider: "ollama", Err: ctx.Err()}
					return
				}
			}

			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- &ProviderError{Provider: "ollama", Err: err}
		}
	}()

	return chunks, errs
}
