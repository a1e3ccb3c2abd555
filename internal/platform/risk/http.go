package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient asks a remote interaction service to classify medicines. The
// service receives {"medicines":[...]} and answers with an Assessment.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

// NewHTTPClient returns a client for url with the given request timeout.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Classify(ctx context.Context, drugs []Drug) (*Assessment, error) {
	body, err := json.Marshal(map[string]interface{}{"medicines": drugs})
	if err != nil {
		return nil, fmt.Errorf("encode risk request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build risk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("risk service returned %d: %s", resp.StatusCode, msg)
	}

	var a Assessment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode risk response: %w", err)
	}
	if _, ok := levelRank[a.Level]; !ok {
		return nil, fmt.Errorf("risk service returned unknown level %q", a.Level)
	}
	return &a, nil
}
