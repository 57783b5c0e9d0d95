package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

type VertexClient struct {
	client *genai.Client
	model  string
}

func NewVertexClient(ctx context.Context, project, location, model string) (*VertexClient, error) {
	if project == "" {
		return nil, errors.New("VERTEX_PROJECT is not set")
	}
	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}
	return &VertexClient{client: client, model: model}, nil
}

func (v *VertexClient) Name() string { return "vertex" }

func (v *VertexClient) Complete(ctx context.Context, prompt string, doc Document) (string, error) {
	model := v.client.GenerativeModel(v.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	parts := []genai.Part{genai.Text(prompt)}
	if len(doc.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: doc.MIMEType, Data: doc.Data})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no candidates in response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("no text in response")
	}
	return b.String(), nil
}

func (v *VertexClient) Close() error {
	return v.client.Close()
}
