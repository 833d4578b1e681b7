package domain

import "context"

// Completer is an external completion service returning structured output.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

// CompletionRequest asks for a single completion. When Schema is set the
// service must answer with JSON conforming to it.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	Model        string   // empty = provider default
	MaxTokens    int
	Temperature  *float64 // nil = model default
}

type CompletionResponse struct {
	Content   string
	Model     string
	Usage     Usage
	LatencyMs int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
