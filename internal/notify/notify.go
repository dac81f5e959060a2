// Package notify sends an optional Telegram message summarizing a
// write or schedule run, trimmed from teacher's multi-event
// notifications.TelegramService down to the one stage-completion
// summary this project's CLI needs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config holds Telegram bot configuration.
type Config struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

// Service sends stage-summary notifications via the Telegram bot API.
type Service struct {
	cfg    Config
	client *http.Client
}

// New builds a Service. Send is a no-op when cfg is not fully configured.
func New(cfg Config) *Service {
	return &Service{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

// Enabled reports whether the service is configured to actually send.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled && s.cfg.BotToken != "" && s.cfg.ChatID != ""
}

// Summary is one stage-completion report.
type Summary struct {
	Stage    string // "write" or "schedule"
	Success  bool
	Detail   string // free-form body, e.g. "12 files written to TAPE003L6"
	Duration time.Duration
}

// Send formats and posts one run summary. It is a no-op when the service
// is not enabled.
func (s *Service) Send(ctx context.Context, sum Summary) error {
	if !s.Enabled() {
		return nil
	}
	text := formatSummary(sum)
	return s.sendMessage(ctx, text)
}

func formatSummary(sum Summary) string {
	emoji := "✅"
	title := fmt.Sprintf("%s finished", sum.Stage)
	if !sum.Success {
		emoji = "❌"
		title = fmt.Sprintf("%s failed", sum.Stage)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s *%s*\n\n", emoji, escapeMarkdown(title))
	buf.WriteString(escapeMarkdown(sum.Detail))
	fmt.Fprintf(&buf, "\n\n_Duration: %s_", escapeMarkdown(sum.Duration.Round(time.Second).String()))
	return buf.String()
}

func escapeMarkdown(s string) string {
	specialChars := []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	result := s
	for _, c := range specialChars {
		result = string(bytes.ReplaceAll([]byte(result), []byte(c), []byte("\\"+c)))
	}
	return result
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (s *Service) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.cfg.BotToken)

	body, err := json.Marshal(telegramMessage{ChatID: s.cfg.ChatID, Text: text, ParseMode: "MarkdownV2"})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			OK          bool   `json:"ok"`
			Description string `json:"description"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error: %s", errResp.Description)
	}
	return nil
}
