package domain

// Mode selects whether the background capture loop runs.
type Mode int

const (
	TextMode Mode = iota
	VoiceMode
)

func (m Mode) String() string {
	if m == VoiceMode {
		return "voice"
	}
	return "text"
}

// Status is the orchestrator's current phase, exposed for display.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusProcessing
	StatusSpeaking
	StatusNoSpeech
)

func (s Status) String() string {
	switch s {
	case StatusListening:
		return "listening"
	case StatusProcessing:
		return "processing"
	case StatusSpeaking:
		return "speaking"
	case StatusNoSpeech:
		return "no speech detected"
	default:
		return "idle"
	}
}
