package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"

	"github.com/medivault/medivault/internal/platform/apperr"
)

const (
	// DefaultVisionEndpoint is the Google Cloud Vision batch annotate URL.
	DefaultVisionEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	visionScope           = "https://www.googleapis.com/auth/cloud-vision"
)

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionImage struct {
	Content string `json:"content"`
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// VisionClient calls the Cloud Vision REST API with document text
// detection.
type VisionClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

const apiKeyHeader = "X-Goog-Api-Key"

// VisionOption configures a VisionClient.
type VisionOption func(*VisionClient)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) VisionOption {
	return func(v *VisionClient) { v.httpClient = c }
}

// WithEndpoint overrides the annotate URL.
func WithEndpoint(endpoint string) VisionOption {
	return func(v *VisionClient) {
		if endpoint != "" {
			v.endpoint = endpoint
		}
	}
}

// NewVisionClient builds a client. With an API key requests carry it in the
// X-Goog-Api-Key header; without one the Google application
// default credentials are used.
func NewVisionClient(ctx context.Context, apiKey string, opts ...VisionOption) (*VisionClient, error) {
	v := &VisionClient{endpoint: DefaultVisionEndpoint, apiKey: apiKey}
	for _, o := range opts {
		o(v)
	}
	if v.httpClient == nil {
		if apiKey != "" {
			v.httpClient = http.DefaultClient
		} else {
			c, err := google.DefaultClient(ctx, visionScope)
			if err != nil {
				return nil, fmt.Errorf("vision credentials: %w", err)
			}
			v.httpClient = c
		}
	}
	return v, nil
}

// ExtractText sends one image and returns the full text annotation. An
// image with no text yields an empty string.
func (v *VisionClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	body, err := json.Marshal(visionRequest{Requests: []visionImageRequest{{
		Image:    visionImage{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []visionFeature{{Type: "DOCUMENT_TEXT_DETECTION"}},
	}}})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", apperr.ErrExtraction, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", apperr.ErrExtraction, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set(apiKeyHeader, v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrExtraction, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", apperr.ErrExtraction, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: vision returned %d: %s", apperr.ErrExtraction, resp.StatusCode, truncate(raw, 256))
	}

	var out visionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", apperr.ErrExtraction, err)
	}
	if len(out.Responses) == 0 {
		return "", fmt.Errorf("%w: empty vision response", apperr.ErrExtraction)
	}
	r := out.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", apperr.ErrExtraction, r.Error.Message)
	}
	if r.FullTextAnnotation == nil {
		return "", nil
	}
	return r.FullTextAnnotation.Text, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
