// Package ai holds the external AI collaborators: audio transcription
// and quote suggestion. Both are opaque HTTP services whose results
// flow back into the engine as ordinary patch data; their failures are
// never allowed to sink an otherwise valid mutation.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error)
}

type QuoteSuggestion struct {
	Summary        string           `json:"summary"`
	SuggestedTotal decimal.Decimal  `json:"suggested_total"`
	Items          []model.LineItem `json:"items"`
}

type QuoteSuggester interface {
	SuggestQuote(ctx context.Context, text string) (*QuoteSuggestion, error)
}

const (
	requestTimeout     = 30 * time.Second
	transcriptionModel = "whisper-1"
	suggestionModel    = "gpt-4o-mini"
)

const suggestionPrompt = `You are a quoting assistant for a trades business.
From the job description below, propose quote line items.
Respond with JSON only, in the shape:
{"summary": "...", "items": [{"description": "...", "quantity": "1", "unit_price": "150.00"}]}
Quantities and prices must be decimal strings.

Job description:
`

// Client talks to an OpenAI-compatible API and implements both
// collaborator interfaces.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", fileNameFor(mimeType))
	if err != nil {
		return "", apperrors.External("transcription", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", apperrors.External("transcription", err)
	}
	if err := mw.WriteField("model", transcriptionModel); err != nil {
		return "", apperrors.External("transcription", err)
	}
	if err := mw.WriteField("response_format", "text"); err != nil {
		return "", apperrors.External("transcription", err)
	}
	if err := mw.Close(); err != nil {
		return "", apperrors.External("transcription", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", apperrors.External("transcription", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.External("transcription", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.External("transcription", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.External("transcription", fmt.Errorf("status %d", resp.StatusCode))
	}

	log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("chars", len(text)).
		Msg("audio transcribed")

	return strings.TrimSpace(string(text)), nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) SuggestQuote(ctx context.Context, text string) (*QuoteSuggestion, error) {
	payload, err := json.Marshal(chatRequest{
		Model: suggestionModel,
		Messages: []chatMessage{
			{Role: "user", Content: suggestionPrompt + text},
		},
	})
	if err != nil {
		return nil, apperrors.External("quote suggestion", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.External("quote suggestion", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.External("quote suggestion", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.External("quote suggestion", fmt.Errorf("status %d", resp.StatusCode))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, apperrors.External("quote suggestion", err)
	}
	if len(chat.Choices) == 0 {
		return nil, apperrors.External("quote suggestion", fmt.Errorf("empty completion"))
	}

	suggestion, err := parseSuggestion(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, apperrors.External("quote suggestion", err)
	}
	return suggestion, nil
}

// parseSuggestion tolerates completions wrapped in markdown fences or
// surrounding prose by extracting the outermost JSON object.
func parseSuggestion(content string) (*QuoteSuggestion, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var s QuoteSuggestion
	if err := json.Unmarshal([]byte(content[start:end+1]), &s); err != nil {
		return nil, fmt.Errorf("decode suggestion: %w", err)
	}

	total := decimal.Zero
	for _, li := range s.Items {
		total = total.Add(li.Total())
	}
	s.SuggestedTotal = total.Round(2)
	return &s, nil
}

func fileNameFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return "audio.ogg"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "audio.mp3"
	case strings.Contains(mimeType, "wav"):
		return "audio.wav"
	default:
		return "audio.bin"
	}
}
