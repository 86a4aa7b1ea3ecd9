package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var ErrTelegramRejected = errors.New("telegram rejected message")

// Telegram posts to the Bot API sendMessage method.
type Telegram struct {
	client  *http.Client
	apiBase string
	token   string
	chatID  string
}

func NewTelegram(client *http.Client, apiBase, token, chatID string) *Telegram {
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{
		client:  client,
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		chatID:  chatID,
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}
	var parsed telegramResponse
	if err := json.Unmarshal(body, &parsed); err != nil || resp.StatusCode != http.StatusOK || !parsed.OK {
		return fmt.Errorf("%w: status %d: %s", ErrTelegramRejected, resp.StatusCode, parsed.Description)
	}
	return nil
}
