// Package llmclient abstracts the external chat model the orchestrator
// collaborates with as a stream of text chunks given a prompt. The
// orchestrator never sees provider-specific request/response shapes.
package llmclient

import "context"

// ChunkFunc receives one incremental piece of assistant text as it
// arrives, in order. Implementations must not block it indefinitely.
type ChunkFunc func(delta string)

// Client produces a streamed chat completion for a single prompt. There is
// no session state: the caller assembles the full prompt (system
// instructions, simulation context, conversation history) before calling
// Stream.
type Client interface {
	// Stream sends prompt and invokes onChunk for each delta received. It
	// returns the full accumulated text, or an error if the call failed.
	Stream(ctx context.Context, prompt string, onChunk ChunkFunc) (string, error)
}
