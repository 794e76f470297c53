package domain

import "context"

// InferenceClient sends the conversation plus a new user message to a
// language model and returns the assistant reply. The system instruction is
// part of the client's own configuration, never of history.
type InferenceClient interface {
	Send(ctx context.Context, history []Turn, message Turn) (string, error)
}

// SpeechCapture blocks until an utterance is recognized. An empty string or
// an error both mean nothing usable was heard.
type SpeechCapture interface {
	Listen(ctx context.Context) (string, error)
}

// SpeechSynthesizer speaks text aloud and blocks until playback ends.
// Close releases any audio resources held between calls.
type SpeechSynthesizer interface {
	Speak(ctx context.Context, text string) error
	Close() error
}

// Persistence stores a whole turn sequence durably.
type Persistence interface {
	Write(ctx context.Context, turns []Turn) error
	Read(ctx context.Context) ([]Turn, error)
}
