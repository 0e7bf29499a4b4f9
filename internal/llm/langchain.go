package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider adapts a langchaingo model to the Provider interface
type LangChainProvider struct {
	name  string
	model llms.Model
	// nativeTools reports whether the backend supports forced function calls;
	// otherwise the schema is put in the system prompt and JSON is parsed
	// from the text reply
	nativeTools bool
}

// NewLangChainProvider wraps an existing langchaingo model
func NewLangChainProvider(name string, model llms.Model, nativeTools bool) *LangChainProvider {
	return &LangChainProvider{name: name, model: model, nativeTools: nativeTools}
}

// OpenAIConfig holds configuration for the OpenAI provider
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: https://api.openai.com/v1
	Model   string // default: gpt-4o-mini
}

// NewOpenAIProvider creates an OpenAI-backed provider
func NewOpenAIProvider(cfg OpenAIConfig) (*LangChainProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
		openai.WithHTTPClient(newLLMHTTPClient()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangChainProvider("openai", model, true), nil
}

// OllamaConfig holds configuration for a local Ollama server
type OllamaConfig struct {
	BaseURL string // default: http://localhost:11434
	Model   string // default: llama3.2
}

// NewOllamaProvider creates an Ollama-backed provider
func NewOllamaProvider(cfg OllamaConfig) (*LangChainProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	model, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return NewLangChainProvider("ollama", model, false), nil
}

func (p *LangChainProvider) Name() string {
	return p.name
}

func (p *LangChainProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	system := req.System
	opts := []llms.CallOption{}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	if req.Tool != nil {
		if p.nativeTools {
			opts = append(opts,
				llms.WithTools([]llms.Tool{{
					Type: "function",
					Function: &llms.FunctionDefinition{
						Name:        req.Tool.Name,
						Description: req.Tool.Description,
						Parameters:  req.Tool.Schema,
					},
				}}),
				llms.WithToolChoice("required"),
			)
		} else {
			schema, err := json.Marshal(req.Tool.Schema)
			if err != nil {
				return nil, fmt.Errorf("marshal tool schema: %w", err)
			}
			system += fmt.Sprintf("\n\nRespond only with a JSON object for %q (%s) matching this schema:\n%s",
				req.Tool.Name, req.Tool.Description, schema)
		}
	}

	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleAssistant:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		default:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		}
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s generate: empty response", p.name)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Content,
		FinishReason: choice.StopReason,
		Usage: Usage{
			InputTokens:  intInfo(choice.GenerationInfo, "PromptTokens"),
			OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
		},
	}
	if len(choice.ToolCalls) > 0 && choice.ToolCalls[0].FunctionCall != nil {
		out.ToolInput = json.RawMessage(choice.ToolCalls[0].FunctionCall.Arguments)
	}
	return out, nil
}

func intInfo(info map[string]any, key string) int {
	if v, ok := info[key].(int); ok {
		return v
	}
	return 0
}
