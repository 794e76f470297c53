package main

import (
	"fmt"

	"voxchat/internal/audio"
	"voxchat/internal/config"
	"voxchat/internal/domain"
	"voxchat/internal/memory"
	"voxchat/internal/provider"
	"voxchat/internal/speech"
)

func newInference(cfg *config.Config) *provider.Ollama {
	return provider.NewOllama(provider.OllamaConfig{
		APIBase:      cfg.Inference.APIBase,
		Model:        cfg.Inference.Model,
		SystemPrompt: cfg.Assistant.SystemPrompt,
		Temperature:  cfg.Inference.Temperature,
		Timeout:      cfg.Inference.InferenceTimeout(),
		Logger:       logger,
	})
}

// openBackend opens the configured persistence backend.
func openBackend(cfg *config.Config) (domain.Persistence, func(), error) {
	path := cfg.HistoryPath()
	switch cfg.History.Backend {
	case "sqlite":
		store, err := memory.NewSQLiteStore(path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "json":
		return memory.NewJSONFile(path, logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
}

func openHistory(cfg *config.Config) (*memory.History, func(), error) {
	backend, closeFn, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	return memory.NewHistory(backend, logger), closeFn, nil
}

// buildSpeech returns the configured speech ports; either may be nil.
func buildSpeech(cfg *config.Config) (domain.SpeechCapture, domain.SpeechSynthesizer, error) {
	var capture domain.SpeechCapture
	if cfg.Speech.STT.Enabled {
		rec, err := audio.NewRecorder(cfg.Speech.RecordCommand, logger)
		if err != nil {
			return nil, nil, err
		}
		capture = speech.NewCapture(speech.CaptureConfig{
			Recorder: rec,
			Transcriber: provider.NewWhisper(provider.WhisperConfig{
				APIBase:  cfg.Speech.STT.APIBase,
				APIKey:   cfg.Speech.STT.APIKey,
				Model:    cfg.Speech.STT.Model,
				Language: cfg.Speech.STT.Language,
				Prompt:   cfg.Speech.STT.Prompt,
				Logger:   logger,
			}),
			Logger: logger,
		})
	}

	var synth domain.SpeechSynthesizer
	if cfg.Speech.TTS.Enabled {
		player, err := audio.NewPlayer(cfg.Speech.PlayCommand, logger)
		if err != nil {
			return nil, nil, err
		}
		s, err := speech.NewSynthesizer(speech.SynthesizerConfig{
			TTS: provider.NewTTSProvider(provider.TTSConfig{
				Provider: cfg.Speech.TTS.Provider,
				APIBase:  cfg.Speech.TTS.APIBase,
				APIKey:   cfg.Speech.TTS.APIKey,
				Model:    cfg.Speech.TTS.Model,
				Voice:    cfg.Speech.TTS.Voice,
				Logger:   logger,
			}),
			Player: player,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		synth = s
	}
	return capture, synth, nil
}
