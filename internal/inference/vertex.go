package inference

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Vertex summarizes with a Gemini model on Vertex AI.
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewVertex(ctx context.Context, project, region, model string) (*Vertex, error) {
	if project == "" || region == "" {
		return nil, fmt.Errorf("vertex: project and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, project, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	m := client.GenerativeModel(model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	m.SetTemperature(0.2)
	return &Vertex{client: client, model: m}, nil
}

func (v *Vertex) Summarize(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyInput
	}
	// per-call copy so concurrent requests do not share the token ceiling
	m := *v.model
	m.SetMaxOutputTokens(int32(tokenBudget(req.MaxLength)))
	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt(req)))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate content: no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", fmt.Errorf("generate content: empty summary")
	}
	return summary, nil
}

func (v *Vertex) Close() error {
	return v.client.Close()
}
