package channel

import (
	"voxchat/internal/bus"
	"voxchat/internal/domain"
)

// Assistant is the orchestrator surface a presentation drives.
type Assistant interface {
	SubmitText(text string) error
	SetVoiceMode(on bool) error
	AttachImage(ref string) error
	NewChat() error
	Subscribe() (<-chan bus.Event, func())
	Status() domain.Status
	Mode() domain.Mode
	Snapshot() []domain.Turn
}
