package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming
// generation. Chunks are delivered in generation order and never dropped;
// the concatenation of all chunks equals the full reply text.
type StreamProvider interface {
	GenerateStream(ctx context.Context, system string, messages []Message) (<-chan string, <-chan error)
}
