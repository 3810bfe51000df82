package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenCodeProvider implements the Provider interface for OpenCode Zen's
// gateway, which serves different models over different wire protocols:
// chat completions, Anthropic messages, or the Responses API, chosen per
// model. One ChatStream entry point dispatches to the right request
// builder and SSE parser.
type OpenCodeProvider struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	model       string
	temperature float64
}

const (
	opencodeChatCompletionsEndpoint = "/chat/completions"
	opencodeMessagesEndpoint        = "/messages"
	opencodeResponsesEndpoint       = "/responses"
)

var opencodeModelEndpoints = map[string]string{
	"big-pickle":                 opencodeChatCompletionsEndpoint,
	"gemini-3-pro":               "/models/gemini-3-pro",
	"gemini-3-flash":             "/models/gemini-3-flash",
	"glm-4.7-free":               opencodeChatCompletionsEndpoint,
	"gpt-5-nano":                 opencodeChatCompletionsEndpoint, // Using chat/completions despite docs saying /responses (500 errors)
	"kimi-k2.5-free":             opencodeChatCompletionsEndpoint,
	"minimax-m2.1-free":          opencodeMessagesEndpoint,
	"trinity-large-preview-free": opencodeChatCompletionsEndpoint,
}

// opencodeChatRequest mirrors the chat-completions body with stream
// always serialized (the SDK struct's omitempty drops stream:false).
type opencodeChatRequest struct {
	Model         string                         `json:"model"`
	Messages      []openai.ChatCompletionMessage `json:"messages"`
	Tools         []openai.Tool                  `json:"tools,omitempty"`
	Temperature   float32                        `json:"temperature,omitempty"`
	Stream        bool                           `json:"stream"`
	StreamOptions *chatStreamOptions             `json:"stream_options,omitempty"`
}

// opencodeMaxTokens is the max_tokens the messages endpoint requires.
const opencodeMaxTokens = 16000

// NewOpenCode creates a new OpenCode Zen provider.
func NewOpenCode(endpoint, model, apiKey string) *OpenCodeProvider {
	return NewOpenCodeWithTemp("opencode_zen", endpoint, model, apiKey, 0.7)
}

func NewOpenCodeWithTemp(name string, endpoint, model, apiKey string, temperature float64) *OpenCodeProvider {
	return &OpenCodeProvider{
		name:        name,
		baseURL:     strings.TrimRight(endpoint, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		model:       model,
		temperature: temperature,
	}
}

// Name returns the provider identifier.
func (p *OpenCodeProvider) Name() string {
	return p.name
}

// ChatStream sends messages with optional tools over the wire protocol
// the model's endpoint speaks and returns the normalized event stream.
func (p *OpenCodeProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	endpoint := opencodeEndpointForModel(p.model)

	var body []byte
	var err error
	switch endpoint {
	case opencodeMessagesEndpoint:
		system, rest := toAnthropicMessages(messages)
		body, err = json.Marshal(anthropicRequest{
			Model:       p.model,
			Messages:    rest,
			System:      system,
			MaxTokens:   opencodeMaxTokens,
			Temperature: p.temperature,
			Stream:      true,
			Tools:       toAnthropicTools(tools),
		})
	case opencodeResponsesEndpoint:
		temp := float32(p.temperature)
		body, err = json.Marshal(responsesRequest{
			Model:       p.model,
			Input:       toResponsesInput(messages),
			Tools:       toResponsesTools(tools),
			Temperature: &temp,
			Stream:      true,
		})
	default:
		body, err = json.Marshal(opencodeChatRequest{
			Model:         p.model,
			Messages:      mergeSystemMessagesOpenAI(toOpenAIMessages(messages)),
			Tools:         toOpenAITools(tools),
			Temperature:   float32(p.temperature),
			Stream:        true,
			StreamOptions: &chatStreamOptions{IncludeUsage: true},
		})
	}
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Openai-Intent": "conversation-edits",
		"X-Initiator":   requestInitiator(messages),
	}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	if messagesCarryImages(messages) {
		headers["Copilot-Vision-Request"] = "true"
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + endpoint,
		body:     body,
		headers:  headers,
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		switch endpoint {
		case opencodeMessagesEndpoint:
			parseAnthropicSSEStream(ctx, reader, ch)
		case opencodeResponsesEndpoint:
			parseResponsesSSEStream(ctx, reader, ch)
		default:
			parseSSEStream(ctx, reader, ch)
		}
	}()

	return ch, nil
}

// ListModels reports the gateway's known model routing table.
func (p *OpenCodeProvider) ListModels(ctx context.Context) ([]Model, error) {
	models := make([]Model, 0, len(opencodeModelEndpoints))
	for name := range opencodeModelEndpoints {
		models = append(models, Model{Name: name})
	}
	return models, nil
}

// requestInitiator reports whether the request was initiated by the
// human (last message is user input) or by the agent loop (last message
// is a tool result or injected context).
func requestInitiator(messages []Message) string {
	if n := len(messages); n > 0 && messages[n-1].Role == "user" {
		return "user"
	}
	return "agent"
}

func messagesCarryImages(messages []Message) bool {
	for _, m := range messages {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}

func opencodeEndpointForModel(model string) string {
	if endpoint, ok := opencodeModelEndpoints[model]; ok {
		return endpoint
	}

	switch {
	case strings.HasPrefix(model, "gpt-"):
		return opencodeResponsesEndpoint
	case strings.HasPrefix(model, "claude-"):
		return opencodeMessagesEndpoint
	default:
		return opencodeChatCompletionsEndpoint
	}
}

// Close closes idle HTTP connections.
func (p *OpenCodeProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}
