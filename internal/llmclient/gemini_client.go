// Package llmclient is the decision collaborator: it renders the current
// observation into a multimodal prompt, calls the Gemini API, and parses
// the model's JSON reply back into the action vocabulary.
package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/action"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// GeminiDecider implements agent.Decider on top of the Gemini API.
type GeminiDecider struct {
	client *genai.Client
	cfg    config.LLMConfig
	logger *zap.Logger
}

// NewGeminiDecider initializes the client. The API key comes from
// configuration (GEMINI_API_KEY in the environment by default).
func NewGeminiDecider(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiDecider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiDecider{
		client: client,
		cfg:    cfg,
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Decide sends the screenshot and textual context to the model and parses
// its reply into a validated action.
func (d *GeminiDecider) Decide(ctx context.Context, state *schemas.PageState, instruction string, history []agent.HistoryEntry) (string, action.Action, error) {
	contents := buildContents(state, instruction, history)

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(d.cfg.Temperature),
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemPrompt)},
		},
	}
	if d.cfg.TopP > 0 {
		genCfg.TopP = genai.Ptr(d.cfg.TopP)
	}
	if d.cfg.TopK > 0 {
		genCfg.TopK = genai.Ptr(float32(d.cfg.TopK))
	}
	if d.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(d.cfg.MaxTokens)
	}

	text, err := d.generateWithRetry(ctx, contents, genCfg)
	if err != nil {
		return "", action.Action{}, &agent.DecisionError{Cause: err}
	}

	thought, act, err := parseDecision(text)
	if err != nil {
		d.logger.Warn("model reply could not be parsed",
			zap.String("raw_response", text),
			zap.Error(err))
		return "", action.Action{}, &agent.DecisionError{Cause: err}
	}

	return thought, act, nil
}

// generateWithRetry wraps the API call with exponential backoff. Blocked
// prompts and empty candidate sets are permanent; network and quota
// errors are retried until the context or elapsed budget runs out.
func (d *GeminiDecider) generateWithRetry(ctx context.Context, contents []*genai.Content, genCfg *genai.GenerateContentConfig) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = d.cfg.APITimeout
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := d.client.Models.GenerateContent(ctx, d.cfg.Model, contents, genCfg)
		if err != nil {
			d.logger.Warn("gemini request failed, retrying", zap.Error(err))
			return fmt.Errorf("gemini generate content: %w", err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		candidate := resp.Candidates[0]
		if candidate.FinishReason == genai.FinishReasonSafety ||
			candidate.FinishReason == genai.FinishReasonBlocklist {
			return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
		}

		text = resp.Text()
		if text == "" {
			return fmt.Errorf("gemini API returned empty text (reason: %s)", candidate.FinishReason)
		}

		d.logger.Info("LLM decision generated",
			zap.Duration("duration", time.Since(start)),
			zap.String("model", d.cfg.Model))
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// buildContents assembles the multimodal user turn: task, recent history,
// page metadata, and the screenshot.
func buildContents(state *schemas.PageState, instruction string, history []agent.HistoryEntry) []*genai.Content {
	parts := []*genai.Part{
		genai.NewPartFromText(renderUserPrompt(state, instruction, history)),
	}
	if len(state.Screenshot) > 0 {
		parts = append(parts, genai.NewPartFromBytes(state.Screenshot, "image/png"))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}
