package moderation

import (
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

// ErrUnavailable reports a classifier outage. The gate decides whether an
// outage blocks or passes based on its fail-open policy.
var ErrUnavailable = errors.New("moderation classifier unavailable")

// Classification is a category-scored verdict from the external classifier.
type Classification struct {
	Flagged    bool
	Categories map[string]bool
	Scores     map[string]float64
}

type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

// HTTPClassifier calls an OpenAI-compatible /moderations endpoint.
type HTTPClassifier struct {
	URL    string
	APIKey string
	Client *http.Client
}

type moderationReq struct {
	Input string `json:"input"`
}

type moderationResp struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewHTTPClassifier(url, apiKey string) *HTTPClassifier {
	return &HTTPClassifier{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	b, err := json.Marshal(moderationReq{Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}

	var decoded moderationResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, decoded.Error.Message)
	}
	if len(decoded.Results) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrUnavailable)
	}

	r := decoded.Results[0]
	return &Classification{
		Flagged:    r.Flagged,
		Categories: r.Categories,
		Scores:     r.CategoryScores,
	}, nil
}
