package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"morado/model"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider calls the generativelanguage generateContent endpoint
// directly; there is no official Go SDK in our stack.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: defaultGeminiBaseURL,
		client:  http.DefaultClient,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type geminiResult struct {
	Text         string
	FinishReason string
}

// normalizeGeminiResponse flattens the candidates shape into a single
// result so callers never probe optional fields themselves.
func normalizeGeminiResponse(resp *geminiResponse) geminiResult {
	if len(resp.Candidates) == 0 {
		return geminiResult{}
	}
	candidate := resp.Candidates[0]
	text := ""
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}
	return geminiResult{Text: text, FinishReason: candidate.FinishReason}
}

func (p *GeminiProvider) buildRequest(req CompletionRequest) geminiRequest {
	body := geminiRequest{}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, message := range req.History {
		role := "user"
		if message.Sender == model.SenderAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: message.Content}},
		})
	}
	if req.Temperature != 0 {
		body.GenerationConfig = map[string]interface{}{"temperature": req.Temperature}
	}
	return body
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		// Error bodies are usually JSON, but proxies can hand back HTML.
		var failed geminiResponse
		if err := json.Unmarshal(data, &failed); err == nil && failed.Error != nil {
			return "", fmt.Errorf("completion request failed with code %d: %s", failed.Error.Code, failed.Error.Message)
		}
		return "", fmt.Errorf("unexpected status code: %d", httpResp.StatusCode)
	}

	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	result := normalizeGeminiResponse(&resp)
	if result.Text == "" {
		return "", ErrEmptyCompletion
	}
	return result.Text, nil
}

// CompleteStream delivers the whole reply as a single chunk; the
// generateContent endpoint has no token stream in this client.
func (p *GeminiProvider) CompleteStream(ctx context.Context, req CompletionRequest, onDelta func(string) error) (string, error) {
	reply, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if err := onDelta(reply); err != nil {
		return reply, err
	}
	return reply, nil
}
