package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

type textGenerationRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type textGenerationResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// RestTextGenerator calls an HTTP text-generation endpoint:
// POST {baseURL}/generate {"prompt": ...} -> {"text": ...}.
type RestTextGenerator struct {
	httpClient *resty.Client
	maxTokens  int
	logger     *logrus.Logger
}

func NewRestTextGenerator(baseURL, apiKey string, logger *logrus.Logger) *RestTextGenerator {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &RestTextGenerator{httpClient: client, maxTokens: 1500, logger: logger}
}

// NewRestTextGeneratorFromEnv returns nil when TEXT_GENERATION_URL is not set.
func NewRestTextGeneratorFromEnv(logger *logrus.Logger) *RestTextGenerator {
	baseURL := strings.TrimSpace(os.Getenv("TEXT_GENERATION_URL"))
	if baseURL == "" {
		return nil
	}
	return NewRestTextGenerator(baseURL, os.Getenv("TEXT_GENERATION_API_KEY"), logger)
}

func (g *RestTextGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	var result textGenerationResponse
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(textGenerationRequest{Prompt: prompt, MaxTokens: g.maxTokens}).
		SetResult(&result).
		SetError(&result).
		Post("/generate")
	if err != nil {
		g.logger.WithFields(logrus.Fields{"field": "GenerateText"}).Error("text generation call failed: " + err.Error())
		return "", fmt.Errorf("text generation call failed: %w", err)
	}
	if resp.IsError() {
		msg := result.Error
		if msg == "" {
			msg = resp.Status()
		}
		g.logger.WithFields(logrus.Fields{
			"field":       "GenerateText",
			"status_code": resp.StatusCode(),
		}).Error("text generation returned error: " + msg)
		return "", fmt.Errorf("text generation error: %s (status: %d)", msg, resp.StatusCode())
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", errors.New("text generation returned an empty text")
	}
	return text, nil
}
