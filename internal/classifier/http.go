package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// DefaultInstructions tell the service how to normalize a title for license determination.
const DefaultInstructions = "Return the canonical, license-relevant product title for the given installed software " +
	"description. Remove edition, architecture, language, patch and variant qualifiers that do not change the " +
	"license required. Keep a version or year only when a different version or year requires a different license. " +
	`Respond with JSON: {"normalized_name": "<title>"}.`

// HTTPClassifier calls a JSON classification endpoint.
//
// Request body: {"model": ..., "instructions": ..., "input": <raw name>}.
// Response body: {"normalized_name": <string>}; the field is required and must be non-blank.
type HTTPClassifier struct {
	URL          string
	Model        string
	Instructions string
	Credentials  Credentials
	HTTPClient   *http.Client
	now          func() time.Time
}

// NewHTTPClassifier returns a classifier for url. creds may be nil for unauthenticated endpoints; timeout <= 0 uses
// thirty seconds.
func NewHTTPClassifier(url, model string, creds Credentials, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClassifier{
		URL:          strings.TrimSpace(url),
		Model:        model,
		Instructions: DefaultInstructions,
		Credentials:  creds,
		HTTPClient:   &http.Client{Timeout: timeout},
		now:          time.Now,
	}
}

type classifyRequest struct {
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Input        string `json:"input"`
}

type classifyResponse struct {
	NormalizedName *string `json:"normalized_name"`
}

// Classify sends rawName to the service and returns the validated normalized name. Every failure is a
// *ClassificationError; the raw input is never substituted for a missing answer.
func (c *HTTPClassifier) Classify(ctx context.Context, rawName string) (string, error) {
	fail := func(status int, err error) (string, error) {
		return "", &ClassificationError{RawName: rawName, Status: status, Err: err}
	}
	if c.URL == "" {
		return fail(0, ErrNotConfigured)
	}
	body, err := json.Marshal(classifyRequest{Model: c.Model, Instructions: c.Instructions, Input: rawName})
	if err != nil {
		return fail(0, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Credentials != nil {
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		token, err := c.Credentials.Token(now())
		if err != nil {
			return fail(0, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(resp.StatusCode, fmt.Errorf("request failed: %s", strings.TrimSpace(string(b))))
	}

	var payload classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if payload.NormalizedName == nil {
		return fail(resp.StatusCode, ErrMissingField)
	}
	name := strings.TrimSpace(*payload.NormalizedName)
	if name == "" {
		return fail(resp.StatusCode, ErrEmptyResponse)
	}
	return name, nil
}
