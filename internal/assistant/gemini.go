package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	appLog "freeslots/internal/log"
)

// GeminiConfig configures the Gemini-backed assistant.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	// Timeout bounds a single call; zero means no extra deadline.
	Timeout time.Duration
}

// generator is the subset of *genai.GenerativeModel used here.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini formats slots with a Google Gemini model.
type Gemini struct {
	client  *genai.Client
	model   generator
	name    string
	timeout time.Duration
}

// NewGemini creates the client and configures the model with the fixed
// system instruction.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	model.SetCandidateCount(1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}

	return &Gemini{
		client:  client,
		model:   model,
		name:    cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// FormatSlots sends the user message and returns the model's text reply.
func (g *Gemini) FormatSlots(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(UserMessage(req)))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", ErrAssistant, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssistant, err)
	}

	appLog.Debug("assistant reply received", "model", g.name, "elapsed_ms", time.Since(start).Milliseconds(), "chars", len(text))
	return normalizeReply(text), nil
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		// Blocked or empty; treated as "nothing to offer".
		return "", nil
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	return sb.String(), nil
}
