package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	BotToken   string
	ChatID     string
	APIBase    string
	Client     *http.Client
	MaxRetries int
	// MaxAnomalies caps how many anomalies one run summary lists.
	MaxAnomalies int
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  defaultTelegramAPI,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		MaxRetries:   3,
		MaxAnomalies: 10,
	}
}

func (t *TelegramNotifier) endpoint(method string) string {
	base := t.APIBase
	if base == "" {
		base = defaultTelegramAPI
	}
	return fmt.Sprintf("%s/bot%s/%s", base, t.BotToken, method)
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "telegram: marshal payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "telegram: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return eris.Wrap(err, "telegram: send message")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return eris.Errorf("telegram: API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := t.Send(ctx, text); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * time.Second
			zap.L().Warn("telegram: send failed",
				zap.Int("attempt", i+1), zap.Int("of", maxRetries+1),
				zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "telegram: cancelled")
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return eris.Wrapf(lastErr, "telegram: all %d attempts failed", maxRetries+1)
}

// RunFinished sends the run summary and, for completed runs, the anomaly list.
// Runs that never got past the marker check are not announced.
func (t *TelegramNotifier) RunFinished(ctx context.Context, rep *model.RunReport, _ []model.Aggregate) error {
	if !Announce(rep) {
		return nil
	}
	if err := t.SendWithRetry(ctx, FormatRunSummary(rep), t.MaxRetries); err != nil {
		return err
	}
	if len(rep.Anomalies) == 0 {
		return nil
	}
	return t.SendWithRetry(ctx, FormatAnomalies(rep.Interval, rep.Anomalies, t.MaxAnomalies), t.MaxRetries)
}
