package notification

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/realtoken-community/yam-indexer/internal/config"
)

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `plain text`, EscapeMarkdownV2("plain text"))
	assert.Equal(t, `block 100 \- 200`, EscapeMarkdownV2("block 100 - 200"))
	assert.Equal(t, `\[url\]\(x\)`, EscapeMarkdownV2("[url](x)"))
	assert.Equal(t, `a\.b\!c\#d`, EscapeMarkdownV2("a.b!c#d"))
	assert.Equal(t, `\\already`, EscapeMarkdownV2(`\already`))
}

func TestEscapeMarkdownV2Empty(t *testing.T) {
	assert.Equal(t, "", EscapeMarkdownV2(""))
}

func TestNewTelegramNotifierDegradesToNop(t *testing.T) {
	cases := []*config.NotificationConfig{
		{Enabled: false, TelegramBotToken: "t", TelegramChatID: "c"},
		{Enabled: true, TelegramBotToken: "", TelegramChatID: "c"},
		{Enabled: true, TelegramBotToken: "t", TelegramChatID: ""},
	}
	for _, cfg := range cases {
		cfg.RequestTimeout = time.Second
		notifier := NewTelegramNotifier(cfg, "yam-indexer")
		_, isNop := notifier.(NopNotifier)
		assert.True(t, isNop, "missing secrets must disable alerts, not break them")
	}
}

func TestNewTelegramNotifierConfigured(t *testing.T) {
	notifier := NewTelegramNotifier(&config.NotificationConfig{
		Enabled:          true,
		TelegramBotToken: "t",
		TelegramChatID:   "c",
		RequestTimeout:   time.Second,
	}, "yam-indexer")

	_, isNop := notifier.(NopNotifier)
	assert.False(t, isNop)
}

func TestTruncationBound(t *testing.T) {
	// The prefix plus a 4096-byte message must come out under Telegram's
	// hard limit after truncation.
	msg := truncateMessage("Application yam-indexer: " + strings.Repeat("x", telegramMaxLen))
	assert.LessOrEqual(t, len(msg), telegramMaxLen)
	assert.Contains(t, msg, "truncated")
}

func TestTruncationKeepsRunesIntact(t *testing.T) {
	// Walk the cut point across every offset of a multi-byte rune; the cut
	// must never leave a partial sequence behind.
	for pad := 0; pad < 4; pad++ {
		msg := truncateMessage(strings.Repeat("x", pad) + strings.Repeat("é", telegramMaxLen))
		assert.True(t, utf8.ValidString(msg), "pad %d produced invalid UTF-8", pad)
		assert.LessOrEqual(t, len(msg), telegramMaxLen)
		assert.Contains(t, msg, "truncated")
	}
}
