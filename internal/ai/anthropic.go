package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnthropicProvider speaks the Anthropic messages API. The API does not
// return total token usage in the shape we consume, so results carry the
// chars/4 estimate.
type AnthropicProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type anthMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthChatReq struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []anthMsg `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

type anthChatResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-3-opus-20240229"
	}
	return &AnthropicProvider{
		BaseURL: "https://api.anthropic.com/v1",
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *AnthropicProvider) buildRequest(ctx context.Context, system string, messages []Message, stream bool) (*http.Request, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("api key is required")
	}

	out := make([]anthMsg, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		out = append(out, anthMsg{Role: role, Content: m.Content})
	}

	b, err := json.Marshal(anthChatReq{
		Model:     p.Model,
		System:    system,
		Messages:  out,
		MaxTokens: 1000,
		Stream:    stream,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, system string, messages []Message) (*Result, error) {
	req, err := p.buildRequest(ctx, system, messages, false)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &ProviderError{Provider: "anthropic", Err: errors.New(msg)}
	}

	var decoded anthChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, &ProviderError{Provider: "anthropic", Err: errors.New(decoded.Error.Message)}
	}

	var sb strings.Builder
	for _, c := range decoded.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	content := sb.String()

	return &Result{Content: content, TokensUsed: EstimateTokens(content)}, nil
}

// GenerateStream streams text deltas from the messages API event stream.
func (p *AnthropicProvider) GenerateStream(ctx context.Context, system string, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := p.buildRequest(ctx, system, messages, true)
		if err != nil {
			errs <- &ProviderError{Provider: "anthropic", Err: err}
			return
		}

		if p.Client.Timeout != 0 && p.Client.Timeout < 30*time.Second {
			p.Client.Timeout = 0
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- &ProviderError{Provider: "anthropic", Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- &ProviderError{Provider: "anthropic", Err: errors.New(msg)}
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var ev anthStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				errs <- &ProviderError{Provider: "anthropic", Err: err}
				return
			}
			if ev.Error != nil && ev.Error.Message != "" {
				errs <- &ProviderError{Provider: "anthropic", Err: errors.New(ev.Error.Message)}
				return
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					select {
					case chunks <- ev.Delta.Text:
					case <-ctx.Done():
						errs <- &ProviderError{Provider: "anthropic", Err: ctx.Err()}
						return
					}
				}
			case "message_stop":
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- &ProviderError{Provider: "anthropic", Err: err}
		}
	}()

	return chunks, errs
}
