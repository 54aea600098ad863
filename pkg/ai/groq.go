package ai

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.1-8b-instant"

	baseSystemPrompt = "Você é um assistente virtual brasileiro simpático e prestativo. " +
		"Responda de forma clara, direta e natural, como se estivesse conversando pelo WhatsApp. " +
		"Use português brasileiro, seja objetivo e evite respostas muito longas."

	fallbackMisconfigured = "Desculpe, não consigo responder no momento por uma falha de configuração."
	fallbackRateLimited   = "Desculpe, estou recebendo muitas mensagens. Aguarde alguns segundos."
	fallbackEmpty         = "Desculpe, não consegui gerar uma resposta agora."
	fallbackGeneric       = "Desculpe, estou com problemas técnicos no momento."
)

// markdownStripper removes formatting characters the chat UI renders
// literally.
var markdownStripper = strings.NewReplacer("*", "", "_", "", "`", "", "#", "", "<", "", ">", "", "~", "")

// GroqConfig configures the Groq responder.
type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Groq calls Groq's OpenAI-compatible chat completion API. A missing API key
// does not prevent construction; Generate degrades to the misconfiguration
// fallback, so a half-configured deployment still answers politely.
type Groq struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

var _ Responder = &Groq{}

func NewGroq(cfg GroqConfig, log zerolog.Logger) *Groq {
	g := &Groq{model: cfg.Model, log: log}
	if g.model == "" {
		g.model = DefaultModel
	}
	if cfg.APIKey == "" {
		log.Error().Msg("groq api key not configured, replies will use the fallback text")
		return g
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = DefaultBaseURL
	}
	g.client = openai.NewClientWithConfig(clientCfg)
	return g
}

// Model reports the configured completion model.
func (g *Groq) Model() string { return g.model }

func (g *Groq) Generate(ctx context.Context, userMessage, contextBlob string) (string, error) {
	if g.client == nil {
		return fallbackMisconfigured, nil
	}

	system := baseSystemPrompt
	if contextBlob != "" {
		system += "\n\nContexto adicional:\n" + contextBlob
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: 0.7,
		MaxTokens:   500,
		TopP:        0.9,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "generation cancelled")
		}
		g.log.Error().Err(err).Msg("groq completion failed")
		return fallbackFor(err), nil
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return fallbackEmpty, nil
	}
	return strings.TrimSpace(markdownStripper.Replace(resp.Choices[0].Message.Content)), nil
}

// fallbackFor maps a provider error to one of the canned reply categories.
func fallbackFor(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fallbackRateLimited
		case http.StatusUnauthorized:
			return "Erro de configuração com a Groq API."
		}
	}
	return fallbackGeneric
}
