package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const SignatureHeader = "X-Storygate-Signature"

// Dispatcher sends job events to the configured endpoints.
type Dispatcher struct {
	URLs   []string
	Secret string
	Client *http.Client
	Log    *zap.Logger

	wg sync.WaitGroup
}

func New(urls []string, secret string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		URLs:   urls,
		Secret: secret,
		Client: &http.Client{Timeout: 5 * time.Second},
		Log:    log,
	}
}

// Event represents a webhook payload.
type Event struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Fire sends an event to every endpoint.
// It runs asynchronously and does not block.
func (d *Dispatcher) Fire(ctx context.Context, eventType string, data interface{}) {
	if len(d.URLs) == 0 {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	body, err := json.Marshal(event)
	if err != nil {
		d.Log.Warn("webhook marshal failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	for _, url := range d.URLs {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.send(url, eventType, body)
		}(url)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) send(url, eventType string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Storygate-Webhook/1.0")
	if d.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(d.Secret, body))
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		d.Log.Warn("webhook delivery failed", zap.String("event", eventType), zap.String("url", url), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.Log.Warn("webhook rejected", zap.String("event", eventType), zap.String("url", url), zap.Int("status", resp.StatusCode))
	}
}
