// Package gemini adapts the Google Gemini generateContent API as a uniform
// generation gateway: prompt + conversational context + optional prior
// image in, text and/or image bytes out, with typed failures.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is the image-capable model the prompt pipeline targets.
	DefaultModel = "gemini-3-pro-image-preview"
)

// Client is the HTTP implementation of Generator.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	hc      *http.Client
	timeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient creates a Gemini gateway client. Every call is bounded by
// timeout; a zero timeout defaults to two minutes.
func NewClient(apiKey, model string, timeout time.Duration, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		hc:      &http.Client{},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Wire types for the generateContent endpoint. The API accepts camelCase
// field names on both request and response.
type generateContentRequest struct {
	Contents         []wireContent     `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type generationConfig struct {
	ResponseModalities []string         `json:"responseModalities,omitempty"`
	ImageConfig        *wireImageConfig `json:"imageConfig,omitempty"`
}

type wireImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content wireContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Chat answers a conversational turn with text only.
func (c *Client) Chat(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	contents := []wireContent{{Role: "user", Parts: []wirePart{{Text: consultantSystemPrompt}}}}
	contents = append(contents, turnsToContents(req.Context)...)
	contents = append(contents, wireContent{Role: "user", Parts: []wirePart{{Text: req.Prompt}}})

	resp, err := c.generateContent(ctx, generateContentRequest{
		Contents:         contents,
		GenerationConfig: &generationConfig{ResponseModalities: []string{"TEXT"}},
	})
	if err != nil {
		return nil, err
	}

	text, _ := extractParts(resp)
	if text == "" {
		return nil, &UpstreamError{Kind: FailureUnknown, Message: "response contains no text"}
	}

	return &Result{
		Text:       text,
		PromptUsed: req.Prompt,
		ModelUsed:  c.model,
		TokensUsed: resp.UsageMetadata.TotalTokenCount,
		Elapsed:    time.Since(started),
	}, nil
}

// Generate produces a new image from scratch.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	prompt := buildGenerationPrompt(req)

	contents := turnsToContents(req.Context)
	contents = append(contents, wireContent{Role: "user", Parts: []wirePart{{Text: prompt}}})

	resp, err := c.generateContent(ctx, generateContentRequest{
		Contents: contents,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &wireImageConfig{AspectRatio: aspectRatioFor(req.Purpose)},
		},
	})
	if err != nil {
		return nil, err
	}

	text, img := extractParts(resp)
	if img == nil {
		return nil, &UpstreamError{Kind: FailureUnknown, Message: "response contains no image"}
	}

	return &Result{
		Text:       text,
		Image:      img,
		PromptUsed: prompt,
		ModelUsed:  c.model,
		TokensUsed: resp.UsageMetadata.TotalTokenCount,
		Elapsed:    time.Since(started),
	}, nil
}

// Refine revises req.PriorImage according to req.Prompt. The prior image is
// supplied as a model turn ahead of the feedback so the backend sees the
// image it is revising.
func (c *Client) Refine(ctx context.Context, req Request) (*Result, error) {
	if req.PriorImage == nil {
		return nil, &UpstreamError{Kind: FailureInvalidInput, Message: "refine requires a prior image"}
	}

	started := time.Now()
	prompt := buildRefinePrompt(req.Prompt)

	contents := turnsToContents(req.Context)
	contents = append(contents,
		wireContent{Role: "model", Parts: []wirePart{{InlineData: &wireInlineData{
			MimeType: req.PriorImage.MIME,
			Data:     base64.StdEncoding.EncodeToString(req.PriorImage.Data),
		}}}},
		wireContent{Role: "user", Parts: []wirePart{{Text: prompt}}},
	)

	resp, err := c.generateContent(ctx, generateContentRequest{
		Contents: contents,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &wireImageConfig{AspectRatio: aspectRatioFor(req.Purpose)},
		},
	})
	if err != nil {
		return nil, err
	}

	text, img := extractParts(resp)
	if img == nil {
		return nil, &UpstreamError{Kind: FailureUnknown, Message: "response contains no image"}
	}

	return &Result{
		Text:       text,
		Image:      img,
		PromptUsed: prompt,
		ModelUsed:  c.model,
		TokensUsed: resp.UsageMetadata.TotalTokenCount,
		Elapsed:    time.Since(started),
	}, nil
}

func (c *Client) generateContent(ctx context.Context, body generateContentRequest) (*generateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &UpstreamError{Kind: FailureTimeout, Message: "generation call exceeded deadline"}
		}
		return nil, &UpstreamError{Kind: FailureUpstreamUnavailable, Message: err.Error()}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &UpstreamError{Kind: FailureTimeout, Message: "generation call exceeded deadline"}
		}
		return nil, &UpstreamError{Kind: FailureUnknown, Message: fmt.Sprintf("reading response: %v", err)}
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(raw)
		var errResp generateContentResponse
		if jsonErr := json.Unmarshal(raw, &errResp); jsonErr == nil && errResp.Error != nil {
			msg = errResp.Error.Message
		}
		return nil, &UpstreamError{Kind: kindForStatus(httpResp.StatusCode), Status: httpResp.StatusCode, Message: msg}
	}

	var resp generateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &UpstreamError{Kind: FailureUnknown, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if len(resp.Candidates) == 0 {
		return nil, &UpstreamError{Kind: FailureUnknown, Message: "no candidates in response"}
	}
	return &resp, nil
}

func turnsToContents(turns []Turn) []wireContent {
	contents := make([]wireContent, 0, len(turns))
	for _, t := range turns {
		var parts []wirePart
		if t.Text != "" {
			parts = append(parts, wirePart{Text: t.Text})
		}
		if t.Image != nil {
			parts = append(parts, wirePart{InlineData: &wireInlineData{
				MimeType: t.Image.MIME,
				Data:     base64.StdEncoding.EncodeToString(t.Image.Data),
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, wireContent{Role: t.Role, Parts: parts})
	}
	return contents
}

func extractParts(resp *generateContentResponse) (string, *Image) {
	var text string
	var img *Image
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" && text == "" {
			text = p.Text
		}
		if p.InlineData != nil && img == nil {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				continue
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			img = &Image{MIME: mime, Data: data}
		}
	}
	return text, img
}

var _ Generator = (*Client)(nil)

// DataURL renders an image as a data URL, the transport shape stored in the
// message log and sent to clients.
func (i *Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIME, base64.StdEncoding.EncodeToString(i.Data))
}

// ParseDataURL decodes a data URL produced by DataURL. Used to rebuild a
// session's context window from persisted messages.
func ParseDataURL(u string) (*Image, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, fmt.Errorf("data URL is not base64-encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URL: %w", err)
	}
	return &Image{MIME: mime, Data: data}, nil
}

// FormatFromMIME extracts the image format ("png", "jpeg") from a MIME type.
func FormatFromMIME(mime string) string {
	if _, sub, ok := strings.Cut(mime, "/"); ok && sub != "" {
		return sub
	}
	return "png"
}
