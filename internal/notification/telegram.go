package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// telegramMaxLen is Telegram's hard message size limit; oversized messages
// are cut at telegramTruncateAt to leave room for the truncation marker and
// the escaping pass
const (
	telegramMaxLen     = 4096
	telegramTruncateAt = 4000
)

// markdownV2Special lists the characters Telegram requires escaped in
// MarkdownV2 payloads
const markdownV2Special = `_*[]()~` + "`" + `>#+-=|{}.!\`

// TelegramNotifier sends operator alerts to a Telegram group through the bot
// API. Every alert is prefixed with the application name so one group can
// carry alerts from several services.
type TelegramNotifier struct {
	botToken   string
	chatID     string
	appName    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewTelegramNotifier creates a Telegram notifier. When the token or chat id
// is missing the notifier degrades to a no-op so local runs need no secrets.
func NewTelegramNotifier(cfg *config.NotificationConfig, appName string) Notifier {
	if !cfg.Enabled || cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		return NopNotifier{}
	}

	return &TelegramNotifier{
		botToken: cfg.TelegramBotToken,
		chatID:   cfg.TelegramChatID,
		appName:  appName,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    5,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: utils.GetLogger(),
	}
}

// Notify sends the message, truncating and escaping as Telegram requires.
// Failures are logged and swallowed.
func (t *TelegramNotifier) Notify(ctx context.Context, message string) {
	msg := fmt.Sprintf("Application %s: %s", t.appName, message)
	if len(msg) > telegramMaxLen {
		msg = truncateMessage(msg)
	}

	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     EscapeMarkdownV2(msg),
		"disable_web_page_preview": true,
		"parse_mode":               "MarkdownV2",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		t.logger.WithField("error", err.Error()).Warn("Failed to marshal telegram alert")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.logger.WithField("error", err.Error()).Warn("Failed to build telegram alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.WithField("error", err.Error()).Warn("Failed to send telegram alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.WithField("status", resp.StatusCode).Warn("Telegram alert rejected")
	}
}

// truncateMessage cuts the message on a rune boundary at or below
// telegramTruncateAt; a byte-offset cut could split a multi-byte rune and
// hand Telegram invalid UTF-8
func truncateMessage(msg string) string {
	cut := telegramTruncateAt
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "\n…(truncated)…"
}

// EscapeMarkdownV2 escapes the characters Telegram treats as markup
func EscapeMarkdownV2(text string) string {
	var out strings.Builder
	out.Grow(len(text))
	for _, ch := range text {
		if strings.ContainsRune(markdownV2Special, ch) {
			out.WriteByte('\\')
		}
		out.WriteRune(ch)
	}
	return out.String()
}
