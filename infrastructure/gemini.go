package infrastructure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type GeminiClient struct {
	apiKey  string
	models  []string
	baseURL string
	http    *http.Client
}

// NewGeminiClient creates a client that tries each model in order until one
// answers.
func NewGeminiClient(apiKey string, models []string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	if len(models) == 0 {
		return nil, errors.New("no Gemini model configured")
	}
	return &GeminiClient{
		apiKey:  apiKey,
		models:  models,
		baseURL: geminiBaseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

// Complete sends the prompt with the document inlined.
func (g *GeminiClient) Complete(ctx context.Context, prompt string, doc Document) (string, error) {
	parts := []map[string]interface{}{{"text": prompt}}
	if len(doc.Data) > 0 {
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]interface{}{
				"mime_type": doc.MIMEType,
				"data":      base64.StdEncoding.EncodeToString(doc.Data),
			},
		})
	}
	requestBody := map[string]interface{}{
		"contents": []map[string]interface{}{{"parts": parts}},
		"generationConfig": map[string]interface{}{
			"temperature":      0.1,
			"topP":             0.8,
			"topK":             40,
			"maxOutputTokens":  8192,
			"responseMimeType": "application/json",
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	log := Logger().With().Str("document", doc.Name).Logger()
	var lastError error
	for _, model := range g.models {
		text, err := g.callModel(ctx, model, jsonData)
		if err == nil {
			log.Debug().Str("model", model).Msg("Gemini model answered")
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastError = err
		log.Warn().Err(err).Str("model", model).Msg("Gemini model failed")
	}
	return "", fmt.Errorf("all models failed: %w", lastError)
}

func (g *GeminiClient) callModel(ctx context.Context, model string, body []byte) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResponse geminiResponse
	if err := json.Unmarshal(respBody, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse API response: %v", err)
	}
	return apiResponse.text()
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r geminiResponse) text() (string, error) {
	if len(r.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == "" {
		return "", errors.New("no text in response")
	}
	return parts[0].Text, nil
}
