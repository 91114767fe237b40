package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini runs prompts through the generateContent API. The key travels in a
// header rather than the query string so it never shows up in error text.
type Gemini struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewGemini(cfg GeminiConfig) *Gemini {
	g := &Gemini{
		client:  cfg.Client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
	if g.baseURL == "" {
		g.baseURL = defaultGeminiBaseURL
	}
	if g.client == nil {
		g.client = defaultHTTPClient()
	}
	return g
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	status, raw, err := postJSON(ctx, g.client, "gemini", url,
		map[string]string{"x-goog-api-key": g.apiKey},
		geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}},
	)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		log.Warn().Str("provider", "gemini").Int("status", status).Str("body", string(raw)).Msg("generateContent call failed")
		return "", &StatusError{Provider: "gemini", Code: status, Body: string(raw)}
	}
	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &MalformedResponseError{Provider: "gemini", Reason: "response is not valid JSON"}
	}
	if len(parsed.Candidates) == 0 {
		return "", &MalformedResponseError{Provider: "gemini", Reason: "missing candidates"}
	}
	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return "", &MalformedResponseError{Provider: "gemini", Reason: "candidate has no text parts"}
	}
	return b.String(), nil
}
