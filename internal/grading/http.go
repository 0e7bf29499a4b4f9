package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls a remote grading service
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPConfig holds configuration for the remote grading service
type HTTPConfig struct {
	BaseURL string        // e.g. http://localhost:7437/v1/ai
	Token   string        // optional bearer token
	Timeout time.Duration // default: 60s
}

// NewHTTPClient creates a client for a remote grading service
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) GradeAnswer(ctx context.Context, req AnswerRequest) (AnswerVerdict, error) {
	var v AnswerVerdict
	if err := c.post(ctx, "/grade-answer", req, &v); err != nil {
		return AnswerVerdict{}, fmt.Errorf("grade answer: %w", err)
	}
	return v, nil
}

func (c *HTTPClient) GradeCode(ctx context.Context, req CodeRequest) (CodeVerdict, error) {
	var v CodeVerdict
	if err := c.post(ctx, "/grade-code", req, &v); err != nil {
		return CodeVerdict{}, fmt.Errorf("grade code: %w", err)
	}
	v.Score = clampScore(v.Score)
	return v, nil
}

func (c *HTTPClient) Ask(ctx context.Context, req MentorRequest) (MentorReply, error) {
	var r MentorReply
	if err := c.post(ctx, "/mentor", req, &r); err != nil {
		return MentorReply{}, fmt.Errorf("mentor reply: %w", err)
	}
	return r, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Grader = (*HTTPClient)(nil)
