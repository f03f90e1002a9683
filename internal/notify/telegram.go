package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends run reports via the Bot API. Successful runs go
// silently to the silent chat; failures go loudly to the alert chat.
type TelegramNotifier struct {
	client  *http.Client
	baseURL string
	cfg     domain.NotificationConfig
}

func NewTelegramNotifier(cfg domain.NotificationConfig) *TelegramNotifier {
	return &TelegramNotifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: telegramAPIBase,
		cfg:     cfg,
	}
}

type sendMessageRequest struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

func (n *TelegramNotifier) RunFinished(ctx context.Context, report RunReport) error {
	msg := sendMessageRequest{
		Text:      report.Message(),
		ParseMode: n.cfg.ParseMode,
	}
	if report.Failed() {
		msg.ChatID = n.cfg.AlertChatID
	} else {
		msg.ChatID = n.cfg.SilentChatID
		msg.DisableNotification = true
	}

	err := n.send(ctx, msg)
	observe("telegram", err)
	return err
}

func (n *TelegramNotifier) send(ctx context.Context, msg sendMessageRequest) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sendMessage: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage: http %d", resp.StatusCode)
	}
	return nil
}
