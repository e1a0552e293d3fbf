package extraction

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

	"github.com/rs/zerolog"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/observability/metrics"
)

const maxErrorBody = 4096

// ClientConfig configures the HTTP extraction client.
type ClientConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client calls the draft extraction endpoint:
//
//	POST {URL} {"transcript": "..."}
//	200 {"success": true, "data": InvoiceDraft}
//	4xx/5xx {"message": "..."}
//
// Each call performs exactly one request.
type Client struct {
	url     string
	token   string
	http    *http.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		url:     cfg.URL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("extraction"),
	}
}

type extractRequest struct {
	Transcript string `json:"transcript"`
}

type extractResponse struct {
	Success bool                 `json:"success"`
	Data    *models.InvoiceDraft `json:"data"`
	Message string               `json:"message"`
}

// Extract implements Extractor.
func (c *Client) Extract(ctx context.Context, transcript string) (*models.InvoiceDraft, error) {
	t, err := CheckTranscript(transcript)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	draft, err := c.do(ctx, t)
	reason := ""
	if err != nil {
		reason = failureReason(err)
	}
	c.metrics.RecordExtraction("http", reason, time.Since(start).Seconds())

	if err != nil {
		c.logger.Warn().Err(err).Int("transcriptLen", len(t)).Msg("Draft extraction failed")
		return nil, err
	}
	c.logger.Info().
		Int("items", len(draft.Items)).
		Int("clientCandidates", len(draft.ClientCandidates)).
		Dur("latency", time.Since(start)).
		Msg("Draft extracted")
	return draft, nil
}

func (c *Client) do(ctx context.Context, transcript string) (*models.InvoiceDraft, error) {
	body, err := json.Marshal(extractRequest{Transcript: transcript})
	if err != nil {
		return nil, fmt.Errorf("extraction: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extraction: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ExtractionFailedError{Message: "extraction service unreachable", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExtractionFailedError{Message: "failed to read response", StatusCode: resp.StatusCode, Err: err}
	}

	var out extractResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(out.Message)
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &ExtractionFailedError{Message: msg, StatusCode: resp.StatusCode}
	}
	if decodeErr != nil {
		return nil, &ExtractionFailedError{Message: "malformed response", StatusCode: resp.StatusCode, Err: decodeErr}
	}
	if !out.Success || out.Data == nil {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "extraction was not successful"
		}
		return nil, &ExtractionFailedError{Message: msg, StatusCode: resp.StatusCode}
	}

	draft := out.Data.Normalize()
	return &draft, nil
}

func failureReason(err error) string {
	var fe *ExtractionFailedError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &fe) && fe.StatusCode >= 500:
		return "server"
	case errors.As(err, &fe) && fe.StatusCode >= 400:
		return "client"
	case errors.As(err, &fe) && fe.StatusCode == 0:
		return "transport"
	default:
		return "rejected"
	}
}
