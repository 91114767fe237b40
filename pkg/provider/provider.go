// Package provider contains the text-generation backend adapters and the
// static agent routing table. Every adapter turns one prompt into one reply
// over a provider-specific HTTP protocol and normalizes all failure shapes
// into the shared taxonomy in errors.go.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Generator is the single operation every backend adapter exposes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const defaultRequestTimeout = 60 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultRequestTimeout}
}

// postJSON issues one POST with a JSON body and returns status plus raw body.
// Transport-level failures come back as *NetworkError; everything else is left
// to the caller to classify.
func postJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Provider: name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Provider: name, Err: err}
	}
	return resp.StatusCode, raw, nil
}
