package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const defaultCloudflareBaseURL = "https://api.cloudflare.com"

// Cloudflare runs prompts through the Workers AI REST API.
type Cloudflare struct {
	client    *http.Client
	baseURL   string
	accountID string
	token     string
	model     string
}

type CloudflareConfig struct {
	AccountID string
	APIToken  string
	Model     string
	// BaseURL and Client override the production endpoint and transport,
	// mainly for tests.
	BaseURL string
	Client  *http.Client
}

func NewCloudflare(cfg CloudflareConfig) *Cloudflare {
	c := &Cloudflare{
		client:    cfg.Client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
		token:     cfg.APIToken,
		model:     cfg.Model,
	}
	if c.baseURL == "" {
		c.baseURL = defaultCloudflareBaseURL
	}
	if c.client == nil {
		c.client = defaultHTTPClient()
	}
	return c
}

type cloudflareRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cloudflareResponse struct {
	Result struct {
		Response string `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
}

func (c *Cloudflare) Generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/client/v4/accounts/%s/ai/run/%s", c.baseURL, c.accountID, c.model)
	status, raw, err := postJSON(ctx, c.client, "cloudflare", url,
		map[string]string{"Authorization": "Bearer " + c.token},
		cloudflareRequest{Messages: []chatMessage{{Role: "user", Content: prompt}}},
	)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		log.Warn().Str("provider", "cloudflare").Int("status", status).Str("body", string(raw)).Msg("workers ai call failed")
		return "", &StatusError{Provider: "cloudflare", Code: status, Body: string(raw)}
	}
	var parsed cloudflareResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &MalformedResponseError{Provider: "cloudflare", Reason: "response is not valid JSON"}
	}
	if !parsed.Success {
		return "", &MalformedResponseError{Provider: "cloudflare", Reason: "success flag not set"}
	}
	if parsed.Result.Response == "" {
		return "", &MalformedResponseError{Provider: "cloudflare", Reason: "missing result.response"}
	}
	return parsed.Result.Response, nil
}
