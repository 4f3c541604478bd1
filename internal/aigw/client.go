// SPDX-License-Identifier: MIT

// Package aigw adapts the external generative backend into a typed,
// deduplicated, retrying gateway for facilitation artifacts.
package aigw

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

// GenerationParams tune a single text-generation call.
type GenerationParams struct {
	DecodingMethod    string  `json:"decoding_method,omitempty"`
	MaxNewTokens      int     `json:"max_new_tokens,omitempty"`
	MinNewTokens      int     `json:"min_new_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopK              int     `json:"top_k,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

// Request is one prompt sent to the provider.
type Request struct {
	Prompt string
	Params GenerationParams
}

// Response is the provider's generated text plus metadata.
type Response struct {
	Content string
	ModelID string
}

// Provider is the narrow contract to the generative backend. Transport and
// authentication details stay behind it.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Client talks to a watsonx-style text generation endpoint.
type Client struct {
	base      string
	apiKey    string
	projectID string
	modelID   string
	http      *http.Client
}

// NewClient creates a provider client. The http.Client timeout is left open;
// per-call deadlines come from the caller's context.
func NewClient(base, apiKey, projectID, modelID string) *Client {
	return &Client{
		base:      strings.TrimRight(base, "/"),
		apiKey:    apiKey,
		projectID: projectID,
		modelID:   modelID,
		http:      &http.Client{},
	}
}

type generationRequest struct {
	ModelID    string           `json:"model_id"`
	ProjectID  string           `json:"project_id,omitempty"`
	Input      string           `json:"input"`
	Parameters GenerationParams `json:"parameters"`
}

type generationResponse struct {
	ModelID string `json:"model_id"`
	Results []struct {
		GeneratedText string `json:"generated_text"`
		StopReason    string `json:"stop_reason"`
	} `json:"results"`
}

// Generate performs one blocking provider call. Errors are classified into
// the package sentinels so the gateway can decide on retry.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, &ProviderError{Sentinel: ErrBadContext, Operation: "generate"}
	}

	body, err := json.Marshal(generationRequest{
		ModelID:    c.modelID,
		ProjectID:  c.projectID,
		Input:      req.Prompt,
		Parameters: req.Params,
	})
	if err != nil {
		return Response{}, &ProviderError{Sentinel: ErrBadContext, Operation: "generate", Err: err}
	}

	url := c.base + "/ml/v1/text/generation?version=2024-05-01"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, &ProviderError{Sentinel: ErrBadContext, Operation: "generate", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, classifyTransportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusOK:
		// fall through to decode
	case res.StatusCode >= 500:
		return Response{}, &ProviderError{
			Sentinel:  ErrUpstream,
			Operation: "generate",
			Status:    res.StatusCode,
			Body:      readErrorBody(res.Body),
		}
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusRequestTimeout:
		return Response{}, &ProviderError{Sentinel: ErrUnavailable, Operation: "generate", Status: res.StatusCode}
	default:
		// 4xx: the provider rejected the request; retrying will not help.
		return Response{}, &ProviderError{
			Sentinel:  ErrProviderRejected,
			Operation: "generate",
			Status:    res.StatusCode,
			Body:      readErrorBody(res.Body),
		}
	}

	var payload generationResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Response{}, &ProviderError{Sentinel: ErrBadResponse, Operation: "generate", Err: err}
	}
	if len(payload.Results) == 0 || strings.TrimSpace(payload.Results[0].GeneratedText) == "" {
		return Response{}, &ProviderError{Sentinel: ErrBadResponse, Operation: "generate", Body: "empty results"}
	}

	return Response{
		Content: strings.TrimSpace(payload.Results[0].GeneratedText),
		ModelID: payload.ModelID,
	}, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Sentinel: ErrTimeout, Operation: "generate", Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Sentinel: ErrTimeout, Operation: "generate", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("aigw: generate: %w", err)
	}
	return &ProviderError{Sentinel: ErrUnavailable, Operation: "generate", Err: err}
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// interface compliance
var _ Provider = (*Client)(nil)

// defaultTimeout guards callers that forget to set a deadline.
const defaultTimeout = 20 * time.Second
