package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"voxchat/internal/agent"
	"voxchat/internal/bus"
	"voxchat/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramMaxPhotoBytes  = 20 << 20
	telegramSendBurst      = 5
)

// Telegram mirrors the conversation into a private chat with one user and
// accepts that user's messages, photos and commands as intents.
type Telegram struct {
	token         string
	allowFrom     int64
	parseMode     string
	attachmentDir string

	bot     *tgbotapi.BotAPI
	client  *http.Client
	limiter *sendLimiter
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token         string
	AllowFrom     int64  // the only user allowed to chat
	ParseMode     string // "Markdown" by default
	AttachmentDir string // where received photos are stored
	SendsPerMin   float64
	Logger        *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AttachmentDir == "" {
		cfg.AttachmentDir = filepath.Join(os.TempDir(), "voxchat-attachments")
	}
	return &Telegram{
		token:         cfg.Token,
		allowFrom:     cfg.AllowFrom,
		parseMode:     cfg.ParseMode,
		attachmentDir: cfg.AttachmentDir,
		client:        &http.Client{Timeout: 60 * time.Second},
		limiter:       newSendLimiter(telegramSendBurst, cfg.SendsPerMin),
		logger:        cfg.Logger,
	}
}

// Run connects to Telegram and serves the allowed user until ctx is
// cancelled or the assistant shuts down.
func (t *Telegram) Run(ctx context.Context, a Assistant) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	events, unsubscribe := a.Subscribe()
	defer unsubscribe()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	defer bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			t.forward(ctx, e)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, a, update)
		}
	}
}

// forward mirrors replies to the private chat. In a private chat the chat ID
// equals the user ID.
func (t *Telegram) forward(ctx context.Context, e bus.Event) {
	chatID := t.allowFrom
	switch e.Type {
	case bus.EventTurnAppended:
		if e.Turn.Role == domain.RoleAssistant {
			t.sendMessage(ctx, chatID, e.Turn.Text)
		}
	case bus.EventStatusChanged:
		if e.Status == domain.StatusProcessing {
			_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
		}
	case bus.EventHistoryCleared:
		t.sendMessage(ctx, chatID, "Chat cleared.")
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, a Assistant, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.From.ID != t.allowFrom {
		t.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		t.sendMessage(ctx, msg.Chat.ID, "Unauthorized. This assistant talks to its owner only.")
		return
	}

	if msg.IsCommand() {
		t.handleCommand(ctx, a, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if len(msg.Photo) > 0 {
		path, err := t.downloadPhoto(ctx, msg.Photo)
		if err != nil {
			t.logger.Error("cannot download photo", "err", err)
			t.sendMessage(ctx, msg.Chat.ID, "Could not fetch that photo, try again.")
			return
		}
		if err := a.AttachImage(path); err != nil {
			t.reportError(ctx, msg.Chat.ID, err)
			return
		}
		text = strings.TrimSpace(msg.Caption)
		if text == "" {
			t.sendMessage(ctx, msg.Chat.ID, "Got the photo. What should I look at?")
			return
		}
	}
	if text == "" {
		return
	}

	t.logger.Info("telegram message received", "user_id", msg.From.ID, "text_len", len(text))
	if err := a.SubmitText(text); err != nil {
		t.reportError(ctx, msg.Chat.ID, err)
	}
}

func (t *Telegram) handleCommand(ctx context.Context, a Assistant, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	var err error
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(ctx, chatID, "Send me a message or a photo.\n\n"+
			"Commands:\n/new - start a new chat\n/voice on|off - hands-free mode on the computer\n/status - what I'm doing")
	case "new", "clear":
		err = a.NewChat()
	case "voice":
		on := strings.ToLower(strings.TrimSpace(msg.CommandArguments())) != "off"
		if err = a.SetVoiceMode(on); err == nil {
			state := "off"
			if on {
				state = "on"
			}
			t.sendMessage(ctx, chatID, "Voice mode "+state+".")
		}
	case "status":
		t.sendMessage(ctx, chatID, fmt.Sprintf("Status: %s\nMode: %s\nTurns: %d",
			a.Status(), a.Mode(), len(a.Snapshot())))
	default:
		t.sendMessage(ctx, chatID, "Unknown command. Type /help for available commands.")
	}
	if err != nil {
		t.reportError(ctx, chatID, err)
	}
}

func (t *Telegram) reportError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, agent.ErrBusy):
		t.sendMessage(ctx, chatID, "Still thinking about your last message.")
	case errors.Is(err, agent.ErrVoiceUnavailable):
		t.sendMessage(ctx, chatID, "Voice mode is not configured on this machine.")
	default:
		t.sendMessage(ctx, chatID, "Error: "+err.Error())
	}
}

// downloadPhoto stores the largest size of a photo and returns its path.
func (t *Telegram) downloadPhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) (string, error) {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	url, err := t.bot.GetFileDirectURL(best.FileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	return downloadFile(ctx, t.client, url, t.attachmentDir)
}

// downloadFile saves url into dir under a fresh name.
func downloadFile(ctx context.Context, client *http.Client, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}
	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, telegramMaxPhotoBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > telegramMaxPhotoBytes {
		err = fmt.Errorf("photo larger than %d bytes", telegramMaxPhotoBytes)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// splitMessage cuts text into Telegram-sized chunks, preferring line breaks.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = runeBoundary(text, maxLen)
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// runeBoundary returns the last rune start at or before i, or the end of the
// first rune when none fits.
func runeBoundary(text string, i int) int {
	for j := i; j > 0; j-- {
		if utf8.RuneStart(text[j]) {
			return j
		}
	}
	_, size := utf8.DecodeRuneInString(text)
	return size
}

func (t *Telegram) sendMessage(ctx context.Context, chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(ctx, chatID, chunk)
	}
}

// sendChunk sends one chunk, retrying in plain text when the markup does not
// parse and backing off on rate limits.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) {
	if err := t.limiter.Wait(ctx); err != nil {
		return
	}
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
		case strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
		case attempt < telegramMaxSendRetries:
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
		default:
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
		}
	}
}
