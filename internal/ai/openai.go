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

// OpenAIProvider speaks the OpenAI chat-completions wire format. Grok (xAI)
// exposes the same API, so a second instance with a different base URL and
// name serves it too.
type OpenAIProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type oaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaChatReq struct {
	Model       string  `json:"model"`
	Messages    []oaMsg `json:"messages"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type oaChatResp struct {
	Choices []struct {
		Message oaMsg `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type oaStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(name, baseURL, apiKey, model string) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenAIProvider) buildRequest(ctx context.Context, system string, messages []Message, stream bool) (*http.Request, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("%s: api key is required", p.Name)
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, fmt.Errorf("%s: model is required", p.Name)
	}

	out := make([]oaMsg, 0, len(messages)+1)
	if system != "" {
		out = append(out, oaMsg{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, oaMsg{Role: m.Role, Content: m.Content})
	}

	b, err := json.Marshal(oaChatReq{
		Model:       model,
		Messages:    out,
		Temperature: 0.7,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	return req, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, system string, messages []Message) (*Result, error) {
	req, err := p.buildRequest(ctx, system, messages, false)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Err: err}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &ProviderError{Provider: p.Name, Err: errors.New(msg)}
	}

	var decoded oaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Provider: p.Name, Err: err}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, &ProviderError{Provider: p.Name, Err: errors.New(decoded.Error.Message)}
	}
	if len(decoded.Choices) == 0 {
		return nil, &ProviderError{Provider: p.Name, Err: errors.New("empty response")}
	}

	content := decoded.Choices[0].Message.Content
	tokens := decoded.Usage.TotalTokens
	if tokens == 0 {
		tokens = EstimateTokens(content)
	}
	return &Result{Content: content, TokensUsed: tokens}, nil
}

// GenerateStream streams assistant content chunks via SSE. Both channels are
// closed when streaming ends.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, system string, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := p.buildRequest(ctx, system, messages, true)
		if err != nil {
			errs <- &ProviderError{Provider: p.Name, Err: err}
			return
		}

		// Streaming can outlive the default client timeout; ctx controls it.
		if p.Client.Timeout != 0 && p.Client.Timeout < 30*time.Second {
			p.Client.Timeout = 0
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- &ProviderError{Provider: p.Name, Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- &ProviderError{Provider: p.Name, Err: errors.New(msg)}
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
			if data == "[DONE]" {
				return
			}
			var decoded oaStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- &ProviderError{Provider: p.Name, Err: err}
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- &ProviderError{Provider: p.Name, Err: errors.New(decoded.Error.Message)}
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			if delta := decoded.Choices[0].Delta.Content; delta != "" {
				select {
				case chunks <- delta:
				case <-ctx.Done():
					errs <- &ProviderError{Provider: p.Name, Err: ctx.Err()}
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			errs <- &ProviderError{Provider: p.Name, Err: err}
		}
	}()

	return chunks, errs
}
