// Package llm implements the LLM Client (§4.4): a single generate(prompt,
// maxTokens) surface over two interchangeable backends — a local
// subprocess model runner, and a remote chat-completions endpoint.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hrkg/platform/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultTimeout is the per-request timeout (§4.4).
const DefaultTimeout = 120 * time.Second

// Client generates text from a prompt via one of two backends.
type Client interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Message is a single chat turn, used by the chat-style helper.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Chat renders messages with the standardised serialisation and calls
// Generate. For the remote backend this instead uses the chat-completions
// API directly; for the local backend this is the only way to do
// multi-turn prompting (§4.4).
func Chat(ctx context.Context, c Client, messages []Message, maxTokens int) (string, error) {
	if rc, ok := c.(*RemoteClient); ok {
		return rc.chatCompletion(ctx, messages, maxTokens)
	}
	prompt := convertMessagesToPrompt(messages)
	return c.Generate(ctx, prompt, maxTokens)
}

// convertMessagesToPrompt renders the local-only chat serialisation
// <System>...</System><User>...</User><Assistant>...</Assistant>,
// trailing with an open <Assistant> tag for the model to complete.
func convertMessagesToPrompt(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		tag := strings.Title(m.Role)
		sb.WriteString("<")
		sb.WriteString(tag)
		sb.WriteString(">")
		sb.WriteString(m.Content)
		sb.WriteString("</")
		sb.WriteString(tag)
		sb.WriteString(">")
	}
	sb.WriteString("<Assistant>")
	return sb.String()
}

// LocalClient invokes a local model binary as a subprocess per request.
type LocalClient struct {
	ModelPath   string
	BinaryPath  string // e.g. path to a llama.cpp-style CLI
	Threads     int
	GPULayers   int
	ContextSize int
	Temperature float64
	Timeout     time.Duration
}

// NewLocalClient creates a subprocess-backed Client with the original's
// defaults (original_source/Agent/llm_client.py's _generate_phi3).
func NewLocalClient(binaryPath, modelPath string) *LocalClient {
	return &LocalClient{
		ModelPath:   modelPath,
		BinaryPath:  binaryPath,
		Threads:     4,
		GPULayers:   0,
		ContextSize: 4096,
		Temperature: 0.7,
		Timeout:     DefaultTimeout,
	}
}

// Generate shells out to the local model binary with a controlled
// argument vector and strips the prompt prefix from stdout.
func (c *LocalClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-m", c.ModelPath,
		"-t", strconv.Itoa(c.Threads),
		"--n-gpu-layers", strconv.Itoa(c.GPULayers),
		"--ctx-size", strconv.Itoa(c.ContextSize),
		"-n", strconv.Itoa(maxTokens),
		"--temp", strconv.FormatFloat(c.Temperature, 'f', -1, 64),
		"-p", prompt,
	}
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Failures return an empty string; the caller decides fallback (§4.4).
		return "", nil
	}

	out := stdout.String()
	if strings.HasPrefix(out, prompt) {
		out = out[len(prompt):]
	}
	return strings.TrimSpace(out), nil
}

// RemoteClient calls a remote OpenAI-compatible chat-completions endpoint.
type RemoteClient struct {
	client      *openai.Client
	model       string
	temperature float32
	breaker     *resilience.Breaker
}

// NewRemoteClient creates a remote backend pointed at apiBase with an
// optional Bearer apiKey (original_source's _generate_openai_style).
func NewRemoteClient(apiBase, apiKey, model string) *RemoteClient {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	cfg.HTTPClient.Timeout = DefaultTimeout
	return &RemoteClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: 0.7,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// Generate issues a single-turn chat-completions request.
func (c *RemoteClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.chatCompletion(ctx, []Message{{Role: "user", Content: prompt}}, maxTokens)
}

func (c *RemoteClient) chatCompletion(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var result string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("llm: remote generate: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		// Failures return an empty string; the caller decides fallback (§4.4).
		return "", nil
	}
	return result, nil
}
