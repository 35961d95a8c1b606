package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"morado/model"
)

// OpenAIProvider talks to any OpenAI-compatible completion endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(client *openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:    openai.F([]openai.ChatCompletionMessageParamUnion{}),
		Model:       openai.F(req.Model),
		Temperature: openai.F(req.Temperature),
	}

	appendMessage := func(role openai.ChatCompletionMessageParamRole, text string) {
		var content any = text
		params.Messages.Value = append(params.Messages.Value, openai.ChatCompletionMessageParam{
			Role:    openai.F(role),
			Content: openai.F(content),
		})
	}

	if req.System != "" {
		appendMessage(openai.ChatCompletionMessageParamRoleSystem, req.System)
	}
	for _, message := range req.History {
		role := openai.ChatCompletionMessageParamRoleUser
		if message.Sender == model.SenderAssistant {
			role = openai.ChatCompletionMessageParamRoleAssistant
		}
		appendMessage(role, message.Content)
	}
	return params
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	reply := completion.Choices[0].Message.Content
	if reply == "" {
		return "", ErrEmptyCompletion
	}
	return reply, nil
}

func (p *OpenAIProvider) CompleteStream(ctx context.Context, req CompletionRequest, onDelta func(string) error) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))
	acc := openai.ChatCompletionAccumulator{}
	var reply strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			content := chunk.Choices[0].Delta.Content
			if content != "" {
				reply.WriteString(content)
				if err := onDelta(content); err != nil {
					return reply.String(), err
				}
			}
		}
		if _, ok := acc.JustFinishedContent(); ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return reply.String(), fmt.Errorf("completion stream failed: %w", err)
	}
	if reply.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return reply.String(), nil
}
