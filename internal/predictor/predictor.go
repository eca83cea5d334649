// FILE: internal/predictor/predictor.go
// Package predictor – vision-model directional bias client (external
// collaborator, §6).
//
// Out of scope per spec.md §1 ("the prediction LLM call itself ... treated
// as a black box"); this file defines the Client interface the orchestrator
// depends on, an Anthropic Messages API implementation, and the response
// parser that extracts a structured Prediction from free-form model text.
package predictor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/forexsim/session-engine/internal/logging"
)

// Bias is the directional call extracted from the model's "Current Bias"
// marker.
type Bias string

const (
	Bullish Bias = "BULLISH"
	Bearish Bias = "BEARISH"
	Neutral Bias = "NEUTRAL"
)

// Prediction is the structured result of one session-open analysis call.
type Prediction struct {
	Bias           Bias
	Conviction     int // 1-10; 0 means the call failed entirely
	FullAnalysis   string
	ModelVersion   string
	ExecutionTime  time.Duration
	Err            error
}

// Client analyzes a rendered chart artifact for instrument and returns a
// directional bias.
type Client interface {
	Predict(ctx context.Context, chartPath, instrument, sessionID string) (Prediction, error)
}

const (
	defaultModel = "claude-haiku-4-5-20251001"
	maxRetries   = 3
	baseDelay    = 2 * time.Second
)

// AnthropicClient calls the Anthropic Messages API with a base64-encoded
// chart image, per original_source/app/services/predictor.py.
type AnthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		model:  defaultModel,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

type messageContent struct {
	Type   string          `json:"type"`
	Source *imageSource    `json:"source,omitempty"`
	Text   string          `json:"text,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Predict reads the chart image, calls the model, and parses the response.
// Rate-limit and timeout responses are retried with exponential backoff
// (base 2s, 3 attempts); any other failure returns a Neutral/0 prediction
// immediately rather than risking a stale or partial alert downstream.
func (c *AnthropicClient) Predict(ctx context.Context, chartPath, instrument, sessionID string) (Prediction, error) {
	log := logging.For("predictor")
	start := time.Now()

	raw, err := os.ReadFile(chartPath)
	if err != nil {
		return Prediction{Bias: Neutral, Conviction: 0, Err: err}, fmt.Errorf("predictor: read chart: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	req := messagesRequest{
		Model:     c.model,
		MaxTokens: 2000,
		Messages: []message{{
			Role: "user",
			Content: []messageContent{
				{Type: "image", Source: &imageSource{Type: "base64", MediaType: "image/png", Data: encoded}},
				{Type: "text", Text: buildAnalysisPrompt(instrument, sessionID)},
			},
		}},
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		text, status, err := c.call(ctx, req)
		if err == nil {
			parsed := ParseResponse(text)
			return Prediction{
				Bias:          parsed.Bias,
				Conviction:    parsed.Conviction,
				FullAnalysis:  text,
				ModelVersion:  c.model,
				ExecutionTime: time.Since(start),
			}, nil
		}
		lastErr = err
		if status != http.StatusTooManyRequests && status != http.StatusGatewayTimeout {
			break
		}
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<attempt)
			log.Warn().Err(err).Dur("delay", delay).Msg("predictor call retrying")
			select {
			case <-ctx.Done():
				return Prediction{Bias: Neutral, Conviction: 0, Err: ctx.Err()}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return Prediction{Bias: Neutral, Conviction: 0, ExecutionTime: time.Since(start), Err: lastErr}, lastErr
}

func (c *AnthropicClient) call(ctx context.Context, reqBody messagesRequest) (string, int, error) {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("predictor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(buf))
	if err != nil {
		return "", 0, fmt.Errorf("predictor: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("predictor: call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("predictor: model returned status %d", resp.StatusCode)
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("predictor: decode response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", resp.StatusCode, fmt.Errorf("predictor: empty response content")
	}
	return parsed.Content[0].Text, resp.StatusCode, nil
}

func buildAnalysisPrompt(instrument, sessionID string) string {
	return fmt.Sprintf(`Analyze the provided intraday chart for %s during the %s session.

Provide a concise technical analysis with:

1. Current Bias: [BULLISH/BEARISH/NEUTRAL]
2. Conviction: [1-10] (10 = highest confidence)
3. ## General Analysis
4. ## Bullish Factors
5. ## Bearish Factors

Be decisive and strictly follow this format.`, instrument, sessionID)
}

var convictionRe = regexp.MustCompile(`(?i)conviction:?\s*(\d+)\s*/?\s*10?`)

// ParseResponse extracts the Current Bias marker and conviction score from
// free-form model text, per original_source/app/services/predictor.py
// parse_response. Handles same-line ("Current Bias: BEARISH") and
// multi-line bold ("## Current Bias" / next few lines "**BEARISH**")
// formats, falling back to a scan of the first 500 characters, and finally
// to Neutral/5 if nothing is found.
func ParseResponse(text string) Prediction {
	result := Prediction{Bias: Neutral, Conviction: 5}

	upper := strings.ToUpper(text)
	lines := strings.Split(text, "\n")
	found := false

	if strings.Contains(upper, "CURRENT BIAS") {
	outer:
		for i, line := range lines {
			lineUpper := strings.ToUpper(line)
			if !strings.Contains(lineUpper, "CURRENT BIAS") {
				continue
			}
			switch {
			case strings.Contains(lineUpper, "BULLISH"):
				result.Bias = Bullish
				found = true
				break outer
			case strings.Contains(lineUpper, "BEARISH"):
				result.Bias = Bearish
				found = true
				break outer
			case strings.Contains(lineUpper, "NEUTRAL"):
				result.Bias = Neutral
				found = true
				break outer
			}

			for j := i + 1; j < len(lines) && j < i+4; j++ {
				next := strings.ToUpper(strings.TrimSpace(lines[j]))
				switch {
				case strings.Contains(next, "**BULLISH**") || next == "BULLISH":
					result.Bias, found = Bullish, true
				case strings.Contains(next, "**BEARISH**") || next == "BEARISH":
					result.Bias, found = Bearish, true
				case strings.Contains(next, "**NEUTRAL**") || next == "NEUTRAL":
					result.Bias, found = Neutral, true
				}
				if found {
					break
				}
			}
			break
		}
	}

	if !found {
		end := 500
		if len(upper) < end {
			end = len(upper)
		}
		head := upper[:end]
		if strings.Contains(head, "BULLISH") {
			result.Bias = Bullish
		} else if strings.Contains(head, "BEARISH") {
			result.Bias = Bearish
		}
	}

	if m := convictionRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 10 {
			result.Conviction = v
		}
	}

	return result
}
