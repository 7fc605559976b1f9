package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GeneratorClient talks to the content-generation service that backs the
// production producers. Each producer maps to one endpoint:
// POST {base}/v1/generate/{name} with the built input as the JSON body,
// answered with the standard result envelope.
type GeneratorClient struct {
	baseURL string
	client  *http.Client
}

// NewGeneratorClient creates a client for the given base URL. The
// http.Client carries no timeout of its own: the per-producer deadline
// arrives through the request context.
func NewGeneratorClient(baseURL string) *GeneratorClient {
	return &GeneratorClient{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Producer returns a Producer backed by this client for one name.
func (c *GeneratorClient) Producer(name string) Producer {
	return &httpProducer{client: c, name: name}
}

// Directory builds a directory of HTTP-backed producers for the given
// names.
func (c *GeneratorClient) Directory(names []string) Directory {
	dir := make(Directory, len(names))
	for _, name := range names {
		dir.Register(c.Producer(name))
	}
	return dir
}

type httpProducer struct {
	client *GeneratorClient
	name   string
}

func (p *httpProducer) Name() string { return p.name }

func (p *httpProducer) Produce(ctx context.Context, input map[string]any) (*Result, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generate/%s", p.client.baseURL, p.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generator returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result Result
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("decode generator response: %w", err)
	}
	return &result, nil
}
