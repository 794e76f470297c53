package config

import "voxchat/internal/audio"

const defaultSystemPrompt = "Your name is Predator the First, or Pred for short. " +
	"You are a witty, slightly sarcastic, and highly conversational AI companion. " +
	"You are NOT a boring robot. You have opinions and a dry sense of humor. " +
	"Instead of just answering questions, engage with the user like a friend would. " +
	"React to what they say with emotion (e.g., 'Wow, really?', 'That sounds terrible'). " +
	"Always end your turn by asking a relevant follow-up question to keep the chat going. " +
	"Keep your responses concise but punchy."

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.voxchat",
		},
		Assistant: AssistantConfig{
			Name:         "Pred",
			SystemPrompt: defaultSystemPrompt,
		},
		Inference: InferenceConfig{
			APIBase:        "http://localhost:11434",
			Model:          "gemma3:4b",
			TimeoutSeconds: 0, // no limit unless configured
		},
		Speech: SpeechConfig{
			STT: STTConfig{
				Enabled: false,
				APIBase: "https://api.groq.com/openai/v1",
				APIKey:  "${GROQ_API_KEY}",
				Model:   "whisper-large-v3",
			},
			TTS: TTSConfig{
				Enabled:  false,
				Provider: "openai",
				APIKey:   "${OPENAI_API_KEY}",
				Voice:    "onyx",
			},
			RecordCommand: audio.DefaultRecordCommand,
			PlayCommand:   audio.DefaultPlayCommand,
			ListenPauseMs: 500,
		},
		History: HistoryConfig{
			Backend: "json",
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			Token:     "${TELEGRAM_BOT_TOKEN}",
			ParseMode: "Markdown",

			SendsPerMinute: 20,
		},
	}
}
