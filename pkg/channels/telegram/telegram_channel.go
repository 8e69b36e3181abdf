// Package telegram implements the Telegram ingress/egress adapter
// (component H): a manual long-poll loop over
// github.com/go-telegram-bot-api/telegram-bot-api/v5, generalized from the
// teacher's gateway.UnifiedMessage plumbing to emit keeper/pkg/event.Event
// and implement keeper/pkg/orchestrator.Transport directly.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"keeper/pkg/event"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig is the per-channel configuration loaded from the
// channels.telegram entry of the application config.
type TelegramConfig struct {
	Token            string  `json:"token"`
	AllowedChatIDs   []int64 `json:"allowed_chat_ids"`
	MaxVoiceDuration int     `json:"max_voice_duration"`
}

// VoiceTranscriber is the seam a speech-to-text collaborator implements.
// A nil VoiceTranscriber disables voice handling entirely: voice messages
// are silently dropped rather than rejected, matching the original's
// "handler not registered without config" behavior.
type VoiceTranscriber interface {
	// Transcribe returns the recognized text, "" if nothing was
	// recognized, or an error if the backend call itself failed.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TelegramChannel is the production Channel implementation for Telegram.
type TelegramChannel struct {
	cfg         TelegramConfig
	bot         *tgbotapi.BotAPI
	transcriber VoiceTranscriber
	httpClient  *http.Client

	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// NewTelegramChannel authenticates against the Telegram Bot API and
// returns a ready-to-Start channel. transcriber may be nil.
func NewTelegramChannel(cfg TelegramConfig, transcriber VoiceTranscriber, downloadTimeoutMs int) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	botHTTPClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("telegram bot authorized", "username", bot.Self.UserName)

	if cfg.MaxVoiceDuration <= 0 {
		cfg.MaxVoiceDuration = 30
	}

	return &TelegramChannel{
		cfg:         cfg,
		bot:         bot,
		transcriber: transcriber,
		httpClient:  &http.Client{Timeout: time.Duration(downloadTimeoutMs) * time.Millisecond},
		stopCtx:     ctx,
		stopCancel:  cancel,
	}, nil
}

// ID returns this channel's registry name.
func (t *TelegramChannel) ID() string { return "telegram" }

// Start runs the long-poll update loop in a background goroutine. It
// enforces the allow-list, extracts text/caption/voice content, and calls
// handle with one event.Event per accepted message.
func (t *TelegramChannel) Start(ctx context.Context, handle func(event.Event)) error {
	go func() {
		<-ctx.Done()
		t.stopCancel()
	}()

	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
					continue
				}

				t.handleUpdate(update.Message, handle)
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) handleUpdate(msg *tgbotapi.Message, handle func(event.Event)) {
	chatID := msg.Chat.ID
	if !t.isAllowed(chatID) {
		slog.Debug("ignoring unauthorized chat", "chat_id", chatID)
		return
	}

	if msg.Voice != nil {
		go t.handleVoice(msg, handle)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	t.react(chatID, msg.MessageID)

	handle(event.Event{
		Text:      text,
		FromName:  msg.From.FirstName,
		ChatID:    strconv.FormatInt(chatID, 10),
		MessageID: msg.MessageID,
		Timestamp: msg.Time(),
	})
}

func (t *TelegramChannel) handleVoice(msg *tgbotapi.Message, handle func(event.Event)) {
	if t.transcriber == nil {
		return
	}

	chatID := msg.Chat.ID
	chatIDStr := strconv.FormatInt(chatID, 10)

	if msg.Voice.Duration > t.cfg.MaxVoiceDuration {
		t.reply(chatID, fmt.Sprintf("Voice message too long, max %d seconds.", t.cfg.MaxVoiceDuration))
		return
	}

	audio, err := t.downloadVoice(msg.Voice.FileID)
	if err != nil {
		slog.Error("failed to download voice message", "error", err)
		t.reply(chatID, "Could not transcribe voice message.")
		return
	}

	text, err := t.transcriber.Transcribe(t.stopCtx, audio)
	if err != nil {
		slog.Error("voice transcription failed", "error", err)
		t.reply(chatID, "Could not transcribe voice message.")
		return
	}
	if text == "" {
		t.reply(chatID, "Could not recognize speech.")
		return
	}

	t.react(chatID, msg.MessageID)

	handle(event.Event{
		Text:          text,
		FromName:      msg.From.FirstName,
		ChatID:        chatIDStr,
		MessageID:     msg.MessageID,
		Timestamp:     msg.Time(),
		Source:        "voice",
		VoiceDuration: msg.Voice.Duration,
	})
}

func (t *TelegramChannel) downloadVoice(fileID string) ([]byte, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get voice file info: %w", err)
	}

	resp, err := t.httpClient.Get(fileInfo.Link(t.cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to download voice file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voice download failed: status %d", resp.StatusCode)
	}

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return buf, nil
}

// react fires the "seen" eyes-emoji reaction. Fire-and-forget: failures
// are logged at debug level and otherwise ignored.
func (t *TelegramChannel) react(chatID int64, messageID int) {
	go func() {
		cfg := tgbotapi.SetMessageReactionConfig{
			ChatID:    chatID,
			MessageID: messageID,
			Reaction:  []tgbotapi.ReactionType{{Type: "emoji", Emoji: "👀"}},
		}
		if _, err := t.bot.Request(cfg); err != nil {
			slog.Debug("failed to set reaction", "message_id", messageID, "error", err)
		}
	}()
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (t *TelegramChannel) isAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChatIDs) == 0 {
		return false
	}
	for _, id := range t.cfg.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// Send implements orchestrator.Transport: sends one already-chunked piece
// of text as a single Telegram message.
func (t *TelegramChannel) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id: %s", chatID)
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// SendTyping implements orchestrator.Transport: issues one "typing" chat
// action tick.
func (t *TelegramChannel) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id: %s", chatID)
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}

// Stop cancels the long-poll loop and forces idle connections closed so a
// restart doesn't collide with a still-inflight long-poll (409 Conflict).
func (t *TelegramChannel) Stop() error {
	t.stopCancel()
	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	return nil
}
