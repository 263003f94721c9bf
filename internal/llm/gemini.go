package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient completes through the Gemini API. Without an API key it
// stays unconfigured and every call fails with ErrNotConfigured.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *logrus.Logger
}

func NewGeminiClient(ctx context.Context, apiKey, model string, logger *logrus.Logger) (*GeminiClient, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	c := &GeminiClient{model: model, logger: logger}
	if apiKey == "" {
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	c.client = client
	return c, nil
}

func (c *GeminiClient) Configured() bool {
	return c.client != nil
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	user := req.User
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.JSONSchema != nil || req.JSONObject {
		config.ResponseMIMEType = "application/json"
	}
	if req.JSONSchema != nil {
		schema, err := json.Marshal(req.JSONSchema.Schema)
		if err != nil {
			return "", fmt.Errorf("failed to marshal schema: %w", err)
		}
		user += "\n\nRespond with JSON matching this schema:\n" + string(schema)
	}

	resp, err := c.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)},
		config,
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	c.logger.WithFields(logrus.Fields{
		"model":         model,
		"response_size": len(text),
	}).Debug("Gemini response received")
	return text, nil
}
