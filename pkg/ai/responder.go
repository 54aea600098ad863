// Package ai generates chat replies through an OpenAI-compatible completion
// endpoint (Groq in production).
package ai

import "context"

// Responder produces a reply for one inbound message. The context blob is the
// tenant's free-form instruction text, appended to the system prompt.
//
// Implementations map provider failures to canned fallback replies instead of
// returning them: the only errors a caller sees are cancellation of ctx.
type Responder interface {
	Generate(ctx context.Context, userMessage, contextBlob string) (string, error)
}
