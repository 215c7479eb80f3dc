package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// localProvider talks to a locally-reachable embedding server over a minimal
// JSON API. The server only accepts one text per request, so Embed issues one
// request per input and assembles results in input order.
type localProvider struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

type localEmbedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type localEmbedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

func NewLocalProvider(baseURL, model string, dimensions int, timeout time.Duration) Provider {
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &localProvider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *localProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))

	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, vec)
	}

	return embeddings, nil
}

func (p *localProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{Text: text, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embedding server returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var out localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid embedding response: %v", ErrUnavailable, err)
	}

	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding server returned empty vector", ErrUnavailable)
	}

	return out.Embedding, nil
}

func (p *localProvider) Model() string {
	return p.model
}

func (p *localProvider) Dimensions() int {
	return p.dimensions
}
