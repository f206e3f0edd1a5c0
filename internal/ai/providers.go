package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	openAIBaseURL    = "https://api.openai.com/v1"
	anthropicBaseURL = "https://api.anthropic.com/v1"
	googleBaseURL    = "https://generativelanguage.googleapis.com/v1beta"

	anthropicVersion = "2023-06-01"
)

// APIError is a non-200 answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// postJSON sends payload and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// openAI talks to the Chat Completions API or any compatible server.
type openAI struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func (o *openAI) name() string { return "openai" }

func (o *openAI) complete(ctx context.Context, r request) (string, error) {
	payload := map[string]interface{}{
		"model": r.Model,
		"messages": []map[string]string{
			{"role": "system", "content": r.System},
			{"role": "user", "content": r.Prompt},
		},
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.http, "OpenAI", o.baseURL+"/chat/completions", headers, payload, &result); err != nil {
		return "", err
	}

	if len(result.Choices) > 0 {
		return strings.TrimSpace(result.Choices[0].Message.Content), nil
	}
	return "", fmt.Errorf("no response from OpenAI")
}

// anthropic talks to the Messages API.
type anthropic struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func (a *anthropic) name() string { return "anthropic" }

func (a *anthropic) complete(ctx context.Context, r request) (string, error) {
	payload := map[string]interface{}{
		"model":       r.Model,
		"system":      r.System,
		"messages":    []map[string]string{{"role": "user", "content": r.Prompt}},
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, a.http, "anthropic", a.baseURL+"/messages", headers, payload, &result); err != nil {
		return "", err
	}

	for _, content := range result.Content {
		if content.Type == "text" {
			return strings.TrimSpace(content.Text), nil
		}
	}
	return "", fmt.Errorf("no text response from Anthropic")
}

// google talks to the Gemini generateContent API.
type google struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func (g *google) name() string { return "google" }

func (g *google) complete(ctx context.Context, r request) (string, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{{
			"role":  "user",
			"parts": []map[string]string{{"text": r.Prompt}},
		}},
		"systemInstruction": map[string]interface{}{
			"parts": []map[string]string{{"text": r.System}},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": r.MaxTokens,
			"temperature":     r.Temperature,
		},
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, r.Model)
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := postJSON(ctx, g.http, "google AI", url, headers, payload, &result); err != nil {
		return "", err
	}

	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		return strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text), nil
	}
	return "", fmt.Errorf("no response from Google AI")
}
