package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kabox/internal/domain"
	"kabox/internal/logging"
)

// UploadItem is one file's outcome in an upload notification.
type UploadItem struct {
	Filename string
	Size     string
	Provider domain.Provider
	Success  bool
	Error    string
}

// Notifier posts operational events to a Telegram channel and the
// owner chat. Everything is fire-and-forget: failures are logged and
// never propagated to request handling.
type Notifier struct {
	token       string
	channelID   string
	ownerChatID string
	client      *http.Client
}

// NewNotifier returns a disabled notifier when no token is configured.
func NewNotifier(token, channelID, ownerChatID string) *Notifier {
	if token == "" {
		logging.Notify.Println("telegram bot token not configured, notifications disabled")
	}
	return &Notifier{
		token:       token,
		channelID:   channelID,
		ownerChatID: ownerChatID,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Enabled() bool {
	return n.token != ""
}

// UploadSummary reports an upload batch to the channel.
func (n *Notifier) UploadSummary(ip string, items []UploadItem) {
	if !n.Enabled() {
		return
	}

	success, failed := 0, 0
	for _, item := range items {
		if item.Success {
			success++
		} else {
			failed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📤 *New File Upload*\n\n")
	fmt.Fprintf(&b, "*IP:* `%s`\n", ip)
	fmt.Fprintf(&b, "*Time:* %s\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&b, "*Result:* %d✅ %d❌\n\n", success, failed)

	if len(items) > 0 {
		b.WriteString("*Files:*\n")
		shown := items
		if len(shown) > 3 {
			shown = shown[:3]
		}
		for i, item := range shown {
			mark := "✅"
			if !item.Success {
				mark = "❌"
			}
			fmt.Fprintf(&b, "%d. %s (%s) - %s - %s\n", i+1, item.Filename, item.Size, item.Provider, mark)
		}
		if len(items) > 3 {
			fmt.Fprintf(&b, "... and %d more\n", len(items)-3)
		}
	}

	n.send(n.channelID, b.String())
}

// DownloadEvent reports a download to the channel.
func (n *Notifier) DownloadEvent(ip string, rec *domain.FileRecord) {
	if !n.Enabled() {
		return
	}
	message := fmt.Sprintf("📥 *File Downloaded*\n\n*File:* %s\n*ID:* `%s`\n*Size:* %s\n*IP:* `%s`\n*Time:* %s\n",
		rec.OriginalName, rec.ID, domain.FormatBytes(rec.Size), ip, time.Now().Format(time.RFC1123))
	n.send(n.channelID, message)
}

// ErrorReport goes to the channel and, truncated, to the owner.
func (n *Notifier) ErrorReport(endpoint string, err error) {
	if !n.Enabled() {
		return
	}
	detail := err.Error()
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	message := fmt.Sprintf("🚨 *System Error*\n\n*Endpoint:* %s\n*Error:* %s\n*Time:* %s\n",
		endpoint, detail, time.Now().Format(time.RFC1123))
	n.send(n.channelID, message)

	short := err.Error()
	if len(short) > 100 {
		short = short[:100]
	}
	n.OwnerMessage(fmt.Sprintf("🚨 Error in %s: %s", endpoint, short))
}

// SecurityAlert reports an attack detection to the channel.
func (n *Notifier) SecurityAlert(alertType, ip, details string) {
	if !n.Enabled() {
		return
	}
	message := fmt.Sprintf("⚠️ *Security Alert*\n\n*Type:* %s\n*IP:* `%s`\n*Details:* %s\n*Time:* %s\n",
		alertType, ip, details, time.Now().Format(time.RFC1123))
	n.send(n.channelID, message)
}

// OwnerMessage sends directly to the owner chat.
func (n *Notifier) OwnerMessage(message string) {
	if !n.Enabled() || n.ownerChatID == "" {
		return
	}
	n.send(n.ownerChatID, message)
}

// send posts a sendMessage call in the background.
func (n *Notifier) send(chatID, text string) {
	if chatID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		payload, err := json.Marshal(map[string]string{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": "Markdown",
		})
		if err != nil {
			logging.Notify.Printf("failed to encode message: %v", err)
			return
		}

		url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.token)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			logging.Notify.Printf("failed to build request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			logging.Notify.Printf("failed to send telegram message: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			logging.Notify.Printf("telegram API returned %d", resp.StatusCode)
		}
	}()
}
