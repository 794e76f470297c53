package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRecording(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisper_TranscribeFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		for field, want := range map[string]string{"model": "whisper-1", "language": "en", "prompt": "Pred"} {
			if got := r.FormValue(field); got != want {
				t.Errorf("%s = %q, want %q", field, got, want)
			}
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "utterance-1.wav" || string(data) != "RIFF" {
			t.Errorf("unexpected upload %q (%q)", hdr.Filename, data)
		}
		w.Write([]byte(`{"text":"  hello there  ","language":"en"}`))
	}))
	defer srv.Close()

	wp := NewWhisperWithClient(WhisperConfig{
		APIBase:  srv.URL + "/",
		APIKey:   "secret",
		Model:    "whisper-1",
		Language: "en",
		Prompt:   "Pred",
		Logger:   testLogger(),
	}, srv.Client())

	text, err := wp.TranscribeFile(context.Background(), writeRecording(t, "utterance-1.wav", "RIFF"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("expected trimmed text, got %q", text)
	}
}

func TestWhisper_OptionalFieldsOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		if _, ok := r.MultipartForm.Value["language"]; ok {
			t.Error("language sent without being configured")
		}
		if _, ok := r.MultipartForm.Value["prompt"]; ok {
			t.Error("prompt sent without being configured")
		}
		w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	wp := NewWhisperWithClient(WhisperConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	text, err := wp.TranscribeFile(context.Background(), writeRecording(t, "a.wav", "RIFF"))
	if err != nil || text != "" {
		t.Fatalf("expected empty transcript, got %q err=%v", text, err)
	}
}

func TestWhisper_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	wp := NewWhisperWithClient(WhisperConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	_, err := wp.TranscribeFile(context.Background(), writeRecording(t, "a.wav", "x"))
	if err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestWhisper_MissingRecording(t *testing.T) {
	wp := NewWhisperWithClient(WhisperConfig{APIBase: "http://127.0.0.1:1", Logger: testLogger()}, http.DefaultClient)
	if _, err := wp.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "none.wav")); err == nil {
		t.Fatal("expected error for a missing recording")
	}
}

func TestTTS_OpenAIEscapesInput(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("request is not valid JSON: %v", err)
		}
		w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	tp := NewTTSProviderWithClient(TTSConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	text := "He said \"hi\"\nthen\tleft \\ ok"
	rc, err := tp.Synthesize(context.Background(), text)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer rc.Close()
	audio, _ := io.ReadAll(rc)

	if string(audio) != "ID3audio" {
		t.Errorf("unexpected audio %q", audio)
	}
	if payload["input"] != text || payload["voice"] != "alloy" || payload["model"] != "tts-1" {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestTTS_ElevenLabs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	tp := NewTTSProviderWithClient(TTSConfig{
		Provider: "elevenlabs",
		APIBase:  srv.URL,
		APIKey:   "k",
		Voice:    "voice123",
		Logger:   testLogger(),
	}, srv.Client())
	rc, err := tp.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	rc.Close()
}

func TestTTS_UnknownProvider(t *testing.T) {
	tp := NewTTSProviderWithClient(TTSConfig{Provider: "espeak", Logger: testLogger()}, http.DefaultClient)
	if _, err := tp.Synthesize(context.Background(), "x"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
