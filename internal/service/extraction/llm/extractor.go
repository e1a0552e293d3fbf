// Package llm implements draft extraction with an OpenAI-compatible chat
// completion model. The model returns the dictated fields; catalog
// candidates are attached afterwards.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/observability/metrics"
	"voice-invoice-service/internal/service/extraction"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

const systemPrompt = `You extract invoice drafts from dictated speech for an Indian small business.
Return only a JSON object with these fields:
{
  "clientName": string,            // client or company the invoice is for, "" if not said
  "items": [{
    "name": string,                // product or service name as spoken
    "quantity": number,            // 1 if not said
    "unitPrice": number | null     // price per unit if said, else null
  }],
  "discount": number,              // invoice discount percent, 0 if not said
  "taxPercent": number | null,     // GST percent if said for the whole invoice, else null
  "notes": string,
  "issuedDate": string,            // YYYY-MM-DD or ""
  "dueDate": string                // YYYY-MM-DD or ""
}
Do not invent values that were not dictated.`

// ChatCompleter is the subset of *openai.Client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor implements extraction.Extractor with a chat model.
type Extractor struct {
	client  ChatCompleter
	model   string
	matcher extraction.Matcher
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an extractor around client.
func New(client ChatCompleter, model string, matcher extraction.Matcher) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	return &Extractor{
		client:  client,
		model:   model,
		matcher: matcher,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("extraction-llm"),
	}
}

// NewWithKey creates an extractor with an OpenAI client for apiKey. A
// non-empty baseURL targets an OpenAI-compatible endpoint.
func NewWithKey(apiKey, baseURL, model string, matcher extraction.Matcher) *Extractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), model, matcher)
}

// Extract implements extraction.Extractor.
func (e *Extractor) Extract(ctx context.Context, transcript string) (*models.InvoiceDraft, error) {
	t, err := extraction.CheckTranscript(transcript)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	draft, err := e.complete(ctx, t)
	reason := ""
	if err != nil {
		reason = "rejected"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
	}
	e.metrics.RecordExtraction("openai", reason, time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn().Err(err).Str("model", e.model).Msg("Draft extraction failed")
		return nil, err
	}

	out := draft.Normalize()
	extraction.AttachCandidates(&out, e.matcher)
	e.logger.Info().
		Str("model", e.model).
		Int("items", len(out.Items)).
		Dur("latency", time.Since(start)).
		Msg("Draft extracted")
	return &out, nil
}

func (e *Extractor) complete(ctx context.Context, transcript string) (*models.InvoiceDraft, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		fe := &extraction.ExtractionFailedError{Message: "model request failed", Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			fe.Message = apiErr.Message
			fe.StatusCode = apiErr.HTTPStatusCode
		}
		return nil, fe
	}
	if len(resp.Choices) == 0 {
		return nil, &extraction.ExtractionFailedError{Message: "model returned no choices"}
	}

	var draft models.InvoiceDraft
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, &extraction.ExtractionFailedError{
			Message: "model returned malformed draft",
			Err:     fmt.Errorf("decode: %w", err),
		}
	}
	return &draft, nil
}

// stripCodeFence removes a surrounding markdown code block, which some models
// emit even in JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
