package infrastructure

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}, nil
}

// NewOpenAIClientWithConfig is used against compatible endpoints.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIClient) Name() string { return "openai" }

// Complete sends images as data URLs. Chat completions do not take PDFs, so
// their text layer is sent instead.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string, doc Document) (string, error) {
	var parts []openai.ChatMessagePart
	switch {
	case doc.IsText():
		parts = []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: "Document text:\n\n" + string(doc.Data),
		}}
	case doc.IsPDF():
		text, err := ExtractPDFText(doc.Data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", doc.Name, err)
		}
		parts = []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: "Document text:\n\n" + text,
		}}
	default:
		dataURL := fmt.Sprintf("data:%s;base64,%s", doc.MIMEType, base64.StdEncoding.EncodeToString(doc.Data))
		parts = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: "Analyse this document:"},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailHigh,
			}},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens:   2000,
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
