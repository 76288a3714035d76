package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"turboprint/pkg/format"
	"turboprint/pkg/turboprint"
)

// Webhook POSTs each record as a JSON object (the format.JSON layout) to URL.
// The rendered text travels as the "text" field.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client

	enc *format.JSON
}

func NewWebhook(url string, headers map[string]string) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, turboprint.ConfigError("webhook", "url must be http(s), got %q", url)
	}
	return &Webhook{
		URL:     url,
		Headers: headers,
		Client:  &http.Client{Timeout: 8 * time.Second},
		enc:     format.NewJSON(),
	}, nil
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	enc := w.enc
	if enc == nil {
		enc = format.NewJSON()
	}
	rec := msg.Record
	rec.Fields = append(append([]turboprint.Field(nil), rec.Fields...), turboprint.String("text", msg.Text))
	body := enc.Append(nil, rec)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode/100 == 2 {
		return nil
	}
	err = fmt.Errorf("webhook status %d", resp.StatusCode)
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		return Permanent(err)
	}
	return err
}
