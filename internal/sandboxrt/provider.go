package sandboxrt

import "context"

// Message is one entry in the inference conversation history the executor
// builds from a task's trace.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// CompletionRequest is what AwaitingModel sends to the inference backend.
// Unlike the upstream agent.LLMProvider's CompletionRequest, there is no
// Tools field: tool availability is communicated entirely through System,
// rendered by the tool catalog's prompt section, and the model is expected
// to respond with plain text containing XML-tag invocations rather than a
// provider-native tool-call block.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// CompletionChunk is one piece of a streamed completion. The final chunk
// (Done=true) carries the turn's token accounting.
type CompletionChunk struct {
	Text         string
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// InferenceProvider is the narrow seam the Task Executor uses to reach an
// LLM backend, mirroring agent.LLMProvider's shape without the
// tool-calling-specific fields this executor doesn't use.
type InferenceProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
	Name() string
}

// collectText drains chunks into a single string plus the final token
// counts, returning the first error encountered (if any).
func collectText(chunks <-chan CompletionChunk) (text string, inputTokens, outputTokens int, err error) {
	var b []byte
	for chunk := range chunks {
		if chunk.Error != nil {
			return string(b), inputTokens, outputTokens, chunk.Error
		}
		b = append(b, chunk.Text...)
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}
	}
	return string(b), inputTokens, outputTokens, nil
}
