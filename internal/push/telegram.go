package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API base URL
const DefaultTelegramAPI = "https://api.telegram.org"

type inlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type telegramMessage struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

// TelegramNotifier delivers notifications to a Telegram chat through a bot
type TelegramNotifier struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
	logger  *slog.Logger
}

// NewTelegramNotifier creates a notifier. An empty apiBase means DefaultTelegramAPI.
func NewTelegramNotifier(apiBase, token, chatID string, client *http.Client, logger *slog.Logger) *TelegramNotifier {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramNotifier{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		chatID:  chatID,
		client:  client,
		logger:  logger,
	}
}

// ShowNotification sends n with one inline button per action. "view" links to the
// notification URL, anything else becomes a callback button.
func (t *TelegramNotifier) ShowNotification(ctx context.Context, n Notification) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      formatNotification(n),
		ParseMode: "MarkdownV2",
	}
	var row []inlineButton
	for _, a := range n.Actions {
		b := inlineButton{Text: a.Title}
		if a.Action == ActionView {
			b.URL = n.URL
		} else {
			b.CallbackData = a.Action
		}
		row = append(row, b)
	}
	if len(row) > 0 {
		msg.ReplyMarkup = &replyMarkup{InlineKeyboard: [][]inlineButton{row}}
	}

	err := t.send(ctx, msg)
	if err == nil {
		return nil
	}
	// retry as plain text without buttons if Telegram rejects the markup
	t.logger.Warn("telegram markdown send failed, retrying as plain text", "error", err)
	msg.ParseMode = ""
	msg.ReplyMarkup = nil
	msg.Text = n.Title + "\n\n" + n.Body
	return t.send(ctx, msg)
}

func (t *TelegramNotifier) send(ctx context.Context, msg telegramMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status: %d", resp.StatusCode)
	}
	return nil
}

func formatNotification(n Notification) string {
	var sb strings.Builder
	sb.WriteString("🎯 *")
	sb.WriteString(escapeMarkdown(n.Title))
	sb.WriteString("*\n\n")
	sb.WriteString(escapeMarkdown(n.Body))
	return sb.String()
}

var markdownReplacer = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// escapeMarkdown escapes MarkdownV2 special characters
func escapeMarkdown(text string) string {
	return markdownReplacer.Replace(text)
}
