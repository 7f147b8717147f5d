package sandboxrt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/nexus/internal/retry"
)

// defaultAnthropicModel is used when a CompletionRequest doesn't specify one.
const defaultAnthropicModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events a
// stream may emit before it's treated as malformed rather than merely slow.
const maxEmptyStreamEvents = 50

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicProvider implements InferenceProvider against Claude, the Task
// Executor's default inference backend. Unlike the upstream agent
// providers.AnthropicProvider, it never builds tool_use/tool_result content
// blocks — this executor's tools are invoked via XML tags embedded in the
// model's plain text output, not the API's native function-calling.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewAnthropicProvider validates config, applies defaults, and returns a
// ready-to-use provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("sandboxrt: anthropic API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	return maxTokens
}

// Complete streams a single-turn text completion. The whole conversation
// (including prior tool results rendered as user-role text, since this
// executor folds tool output back into the message list rather than using
// tool_result blocks) arrives in req.Messages.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	chunks := make(chan CompletionChunk)

	go func() {
		defer close(chunks)

		retryCfg := retry.Exponential(p.maxRetries+1, p.retryDelay, 60*time.Second)
		stream, result := retry.DoWithValue(ctx, retryCfg, func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			s, err := p.createStream(ctx, req)
			if err != nil && !isRetryableError(err) {
				return nil, retry.Permanent(err)
			}
			return s, err
		})
		if result.Err != nil {
			if retry.IsPermanent(result.Err) {
				chunks <- CompletionChunk{Error: fmt.Errorf("sandboxrt/anthropic: %w", errors.Unwrap(result.Err))}
				return
			}
			chunks <- CompletionChunk{Error: fmt.Errorf("sandboxrt/anthropic: max retries exceeded: %w", result.Err)}
			return
		}

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- CompletionChunk) {
	var inputTokens, outputTokens int
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				chunks <- CompletionChunk{Text: delta.Text}
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- CompletionChunk{Error: errors.New("sandboxrt/anthropic: stream error")}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- CompletionChunk{Error: fmt.Errorf("sandboxrt/anthropic: stream appears malformed: %d consecutive empty events", emptyEvents)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- CompletionChunk{Error: fmt.Errorf("sandboxrt/anthropic: %w", err)}
	}
}

// isRetryableError classifies transient failures (rate limits, 5xx, timeouts,
// connection errors) as retryable; everything else (auth, malformed
// request) is not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
