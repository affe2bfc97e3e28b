// Package stream relays line-delimited server-sent events from the upstream
// as plain text tokens.
package stream

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	dataPrefix = "data: "
	sentinel   = "[DONE]"
	maxLine    = 1 << 20
)

// Sender receives each decoded token in order. Returning an error stops the
// relay.
type Sender func(token string) error

type Stats struct {
	Tokens  int
	Skipped int
	// TTFT is the delay until the first token was handed to the sender.
	TTFT time.Duration
	Done bool
}

// Relay reads body line by line and forwards every non-empty delta to send.
// The body is always closed on return, without draining it.
func Relay(ctx context.Context, body io.ReadCloser, send Sender, log *zap.Logger) (Stats, error) {
	defer body.Close()
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	var st Stats

	r := bufio.NewReaderSize(body, 64*1024)
	for {
		raw, oversized, err := readLine(r)
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if oversized {
			st.Skipped++
			log.Debug("skipping oversized stream line", zap.Int("limit", maxLine))
			continue
		}
		line := strings.TrimRight(string(raw), "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == sentinel {
			st.Done = true
			return st, nil
		}
		token, ok := Delta(payload)
		if !ok {
			st.Skipped++
			log.Debug("skipping malformed stream line", zap.Int("bytes", len(payload)))
			continue
		}
		if token == "" {
			continue
		}
		if st.Tokens == 0 {
			st.TTFT = time.Since(start)
		}
		st.Tokens++
		if err := send(token); err != nil {
			return st, err
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLine are consumed and dropped, reported through oversized.
func readLine(r *bufio.Reader) (line []byte, oversized bool, err error) {
	for {
		frag, isPrefix, err := r.ReadLine()
		if err != nil {
			return line, oversized, err
		}
		if !oversized {
			if len(line)+len(frag) > maxLine {
				oversized = true
				line = nil
			} else {
				line = append(line, frag...)
			}
		}
		if !isPrefix {
			return line, oversized, nil
		}
	}
}

// Delta extracts the incremental text of one event. ok is false when the
// payload is not valid JSON.
func Delta(payload string) (string, bool) {
	if !gjson.Valid(payload) {
		return "", false
	}
	return gjson.Get(payload, "choices.0.delta.content").String(), true
}
