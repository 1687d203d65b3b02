package telegram

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/GilMM/caseflow/internal/config"
)

// Notify sends a one-off message without requiring a running bot instance.
// Delivery is best effort; ingestion never blocks on operator alerting.
func Notify(token string, chatID int64, text string) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 || strings.TrimSpace(text) == "" {
		return
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, _ = bot.Send(msg)
}

// Notifier alerts operators when a tenant's sync starts failing. Repeat
// failures within the cooldown are suppressed so a broken tenant does not
// flood the channel every sweep.
type Notifier struct {
	cfg      config.TelegramConfig
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewNotifier(cfg config.TelegramConfig) *Notifier {
	return &Notifier{
		cfg:      cfg,
		cooldown: 30 * time.Minute,
		lastSent: make(map[string]time.Time),
	}
}

// SyncFailed reports a failed sync pass for a tenant.
func (n *Notifier) SyncFailed(tenantID, channel, errMsg string) {
	if !n.cfg.Enabled {
		return
	}
	if !n.shouldSend(tenantID + "/" + channel) {
		return
	}
	text := fmt.Sprintf("⚠️ *Ingestion failing*\nTenant: `%s`\nChannel: `%s`\nError: %s",
		tenantID, channel, errMsg)
	go Notify(n.cfg.BotToken, n.cfg.ChatID, text)
}

func (n *Notifier) shouldSend(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && time.Since(last) < n.cooldown {
		return false
	}
	n.lastSent[key] = time.Now()
	return true
}
