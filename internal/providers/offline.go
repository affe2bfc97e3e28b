package providers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Offline answers every upstream endpoint with canned replies so the gateway
// runs end to end without credentials or network access.
type Offline struct{}

func (Offline) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}
	path := req.URL.Path
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		if gjson.GetBytes(body, "stream").Bool() {
			return reply(req, http.StatusOK, "text/event-stream", offlineStream(body)), nil
		}
		return reply(req, http.StatusOK, "application/json", offlineChat(body)), nil
	case strings.HasSuffix(path, "/images/generations"):
		out := fmt.Sprintf(`{"created":%d,"data":[{"url":"https://offline.storygate.local/images/%s.png"}]}`, time.Now().Unix(), ksuid.New().String())
		return reply(req, http.StatusOK, "application/json", []byte(out)), nil
	case strings.HasSuffix(path, "/videos/generations"):
		out := fmt.Sprintf(`{"id":%q,"model":%q,"task_status":"PROCESSING"}`, ksuid.New().String(), gjson.GetBytes(body, "model").String())
		return reply(req, http.StatusOK, "application/json", []byte(out)), nil
	case strings.Contains(path, "/async-result/"):
		id := path[strings.LastIndex(path, "/")+1:]
		out := fmt.Sprintf(`{"id":%q,"task_status":"SUCCESS","video_result":[{"url":"https://offline.storygate.local/videos/%s.mp4","cover_image_url":"https://offline.storygate.local/videos/%s.jpg"}]}`, id, id, id)
		return reply(req, http.StatusOK, "application/json", []byte(out)), nil
	default:
		return reply(req, http.StatusNotFound, "application/json", []byte(`{"error":{"code":"404","message":"unknown endpoint"}}`)), nil
	}
}

func offlineText(body []byte) string {
	model := gjson.GetBytes(body, "model").String()
	if gjson.GetBytes(body, "thinking.type").String() == "disabled" {
		return "```json\n{\"title\":\"Offline draft\",\"summary\":\"Generated without contacting the upstream.\",\"model\":\"" + model + "\"}\n```"
	}
	if q := gjson.GetBytes(body, "tools.0.web_search.search_query").String(); q != "" {
		return fmt.Sprintf("Offline search results for %q: no live data is available.", q)
	}
	return fmt.Sprintf("Offline response from %s. Messages=%d.", model, gjson.GetBytes(body, "messages.#").Int())
}

func offlineChat(body []byte) []byte {
	out := []byte(`{"object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant"}}],"usage":{"prompt_tokens":10,"completion_tokens":15,"total_tokens":25}}`)
	out, _ = sjson.SetBytes(out, "id", "offline_"+ksuid.New().String())
	out, _ = sjson.SetBytes(out, "model", gjson.GetBytes(body, "model").String())
	out, _ = sjson.SetBytes(out, "choices.0.message.content", offlineText(body))
	return out
}

func offlineStream(body []byte) []byte {
	var buf bytes.Buffer
	for _, word := range strings.SplitAfter(offlineText(body), " ") {
		chunk, _ := sjson.Set(`{"choices":[{"index":0,"delta":{}}]}`, "choices.0.delta.content", word)
		buf.WriteString("data: " + chunk + "\n\n")
	}
	buf.WriteString("data: [DONE]\n\n")
	return buf.Bytes()
}

func reply(req *http.Request, status int, contentType string, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{contentType}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
