package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAI runs prompts through the chat completions API.
type OpenAI struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	o := &OpenAI{
		client:  cfg.Client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
	if o.baseURL == "" {
		o.baseURL = defaultOpenAIBaseURL
	}
	if o.client == nil {
		o.client = defaultHTTPClient()
	}
	return o
}

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	status, raw, err := postJSON(ctx, o.client, "openai", o.baseURL+"/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + o.apiKey},
		openAIRequest{Model: o.model, Messages: []chatMessage{{Role: "user", Content: prompt}}},
	)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		log.Warn().Str("provider", "openai").Int("status", status).Str("body", string(raw)).Msg("chat completion call failed")
		return "", &StatusError{Provider: "openai", Code: status, Body: string(raw)}
	}
	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &MalformedResponseError{Provider: "openai", Reason: "response is not valid JSON"}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &MalformedResponseError{Provider: "openai", Reason: "missing choices[0].message.content"}
	}
	return parsed.Choices[0].Message.Content, nil
}
