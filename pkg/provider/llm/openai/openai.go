// Package openai provides an LLM provider backed by the OpenAI chat
// completions API. Any API-compatible server works via WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/goftar/pkg/provider/llm"
	"github.com/MrWong99/goftar/pkg/types"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// Option adjusts the client a Provider is built with.
type Option func(*[]option.RequestOption)

func with(o option.RequestOption) Option {
	return func(opts *[]option.RequestOption) { *opts = append(*opts, o) }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return with(option.WithBaseURL(url)) }

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option { return with(option.WithOrganization(org)) }

// WithMaxRetries sets how often the SDK retries transient failures.
func WithMaxRetries(n int) Option { return with(option.WithMaxRetries(n)) }

// New returns a Provider for model. An empty apiKey yields a
// CredentialMissing error.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, types.NewError(types.KindCredentialMissing, "openai: new provider",
			errors.New("OpenAI API key is not configured"))
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// roles maps conversation roles to their message constructors.
var roles = map[string]func(string) oai.ChatCompletionMessageParamUnion{
	"system":    oai.SystemMessage[string],
	"developer": oai.DeveloperMessage[string],
	"user":      oai.UserMessage[string],
	"assistant": oai.AssistantMessage[string],
}

// params puts the system prompt ahead of the conversation. Zero sampling
// settings are left unset so the server's defaults apply.
func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		mk, ok := roles[m.Role]
		if !ok {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
		msgs = append(msgs, mk(m.Content))
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}
