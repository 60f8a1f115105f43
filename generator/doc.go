// Package generator provides content generators for part geometry: a chat
// completions backend for OpenAI-compatible endpoints and an offline stub.
// Both satisfy asset.ContentGenerator; their output is validated by the
// synthesizer before use. Cached wraps either one with a Redis response
// cache.
package generator
