// Package genai answers general client questions using the OpenAI API.
// Inbound texts the booking coordinator has no use for are routed here.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// systemPrompt sets the assistant persona and the canned answers it can
// draw on for common questions.
const systemPrompt = "You are Gold Touch Mobile Massage's friendly assistant, replying to SMS and Messenger messages.\n" +
	"- Use a warm, conversational, and human tone.\n" +
	"- Adapt your response to the user's sentiment (e.g., excited, curious, worried).\n" +
	"- Here are some example questions and ideal answers. Feel free to rephrase or expand on these to match the user's tone or sentiment:\n\n" +
	"Q: How much do your services cost?\n" +
	"A: Our current massage rates:\n" +
	"- 60 minutes · Mobile — $150\n" +
	"- 90 minutes · Mobile — $200\n" +
	"- 60 minutes · In-Studio — $120\n" +
	"- 90 minutes · In-Studio — $170\n\n" +
	"Q: What types of services do you offer?\n" +
	"A: Swedish, deep tissue, lymphatic drainage and more!\n\n" +
	"Q: Where are you located?\n" +
	"A: Gold Touch Mobile is a mobile service, so we come to you. Some massage providers also offer in-studio appointments, but not all. You can check who offers studio sessions at goldtouchmobile.com/providers.\n\n" +
	"If you notice the user is happy, excited, or has a specific sentiment, match their energy! Always offer to help with bookings or answer any other questions.\n"

const (
	maxReplyTokens = 200
	temperature    = 0.85
)

// completionService is the slice of the OpenAI client we use, extracted
// so tests can substitute a mock.
type completionService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option configures GenAI client options.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// Client answers free-form client messages with the assistant persona.
type Client struct {
	chat  completionService
	model openai.ChatModel
}

// NewClient creates a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if o.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set; set OPENAI_API_KEY or use WithAPIKey")
	}
	if o.Model == "" {
		o.Model = openai.ChatModelGPT4oMini
	}

	cli := openai.NewClient(option.WithAPIKey(o.APIKey))
	slog.Debug("GenAI client created", "model", o.Model)
	return &Client{chat: &cli.Chat.Completions, model: o.Model}, nil
}

// GenerateReply produces an assistant reply to a client message.
func (c *Client) GenerateReply(ctx context.Context, userMessage string) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
		Model:               c.model,
		MaxCompletionTokens: openai.Int(maxReplyTokens),
		Temperature:         openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("GenAI reply generated", "input_len", len(userMessage), "reply_len", len(reply))
	return reply, nil
}

// GenerateFormReply answers a website form submission. The submission is
// framed for the assistant so it has the sender's details.
func (c *Client) GenerateFormReply(ctx context.Context, name, phone, message string) (string, error) {
	if name == "" {
		name = "Customer"
	}
	return c.GenerateReply(ctx, fmt.Sprintf("Form submission from %s (%s): %s", name, phone, message))
}
