package domain

import "context"

// Generator is the interface to the local inference engine.
type Generator interface {
	Name() string
	Healthy(ctx context.Context) error
	Complete(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// StreamingGenerator is an optional extension for engines that deliver
// incremental fragments. Stream writes fragments to out and closes it before
// returning; fragment delivery happens on the engine's own goroutine, never
// the caller's.
type StreamingGenerator interface {
	Generator
	Stream(ctx context.Context, req GenerateRequest, out chan<- Fragment) error
}

// Fragment is one incremental piece of generated text. Done marks the
// terminating fragment of a generation; its Text may be empty.
type Fragment struct {
	Text string
	Done bool
}

type GenerateRequest struct {
	Model   string
	System  string
	Prompt  string
	Images  []string // base64-encoded
	History []GenMessage
}

// GenMessage is one prior exchange turn supplied as generation context.
type GenMessage struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

type GenerateResponse struct {
	Content   string
	LatencyMs int64
}
