package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier 定义告警输送接口。发送是尽力而为的：实现不得让单个
// 接收方的失败影响调用方。
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// TelegramNotifier 通过 Telegram Bot API 向一个或多个 chat 推送消息。
type TelegramNotifier struct {
	botToken string
	chatIDs  []string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。chatIDs 为空或缺少 token
// 时降级为仅记录日志。
func NewTelegramNotifier(botToken string, chatIDs []string, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	cleaned := make([]string, 0, len(chatIDs))
	for _, id := range chatIDs {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatIDs:  cleaned,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Send 向每个配置的 chat 推送文本。单个 chat 的失败只记录日志，
// 不会中断其余接收方，也不会返回给调用方。
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	if n.botToken == "" || len(n.chatIDs) == 0 {
		n.logger.Info().Str("text", text).Msg("未配置 token/chat，告警仅记录日志")
		return nil
	}

	for _, chatID := range n.chatIDs {
		if err := n.sendToChat(ctx, chatID, text); err != nil {
			n.logger.Error().Err(err).Str("chat_id", chatID).Msg("告警发送失败")
			continue
		}
		n.logger.Info().Str("chat_id", chatID).Msg("告警已发送 (Telegram)")
	}
	return nil
}

func (n *TelegramNotifier) sendToChat(ctx context.Context, chatID, text string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
