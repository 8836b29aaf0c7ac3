package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xscopehub/consultd/ports"
)

// TelegramSink posts a one-line summary of each event to a chat.
type TelegramSink struct {
	baseURL    string
	token      string
	chatID     int64
	httpClient *http.Client
}

func NewTelegramSink(baseURL, token string, chatID int64) *TelegramSink {
	return &TelegramSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *TelegramSink) Send(ctx context.Context, ev ports.Event) error {
	body, err := json.Marshal(sendMessageReq{ChatID: s.chatID, Text: summary(ev)})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram api returned status: %s, body: %s", resp.Status, string(b))
	}
	return nil
}

func summary(ev ports.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "case %s: %s", ev.CaseID, strings.ReplaceAll(ev.Kind, "_", " "))
	if ev.Status != "" {
		fmt.Fprintf(&b, " (now %s)", ev.Status)
	}
	if title, ok := ev.Payload["title"].(string); ok && title != "" {
		fmt.Fprintf(&b, " - %s", title)
	}
	return b.String()
}
