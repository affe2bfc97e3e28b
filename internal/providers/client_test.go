package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"storygate/internal/credentials"
	"storygate/internal/models"
	"storygate/internal/normalize"
	"storygate/internal/retry"
	"storygate/internal/stream"
	"storygate/internal/upstream"
)

var cred = credentials.Credential{Token: "secret-token-1234", Index: 0, Tier: credentials.TierStandard}

func TestSendUsesBearerAuthAndCapabilityPath(t *testing.T) {
	var gotAuth, gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img/1.png"}]}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL+"/api/paas/v4/", srv.Client())
	req := upstream.NewBuilder(upstream.Models{}).Build(upstream.CapabilityImage, upstream.Params{Prompt: "a fox"})
	resp, err := c.Send(context.Background(), req, cred)
	require.NoError(t, err)
	kind, err := Classify(resp)
	require.NoError(t, err)
	assert.Equal(t, retry.Success, kind)
	body, err := ReadJSON(resp)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token-1234", gotAuth)
	assert.Equal(t, "/api/paas/v4/images/generations", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "a fox", gjson.GetBytes(gotBody, "prompt").String())
	assert.Equal(t, "https://img/1.png", gjson.GetBytes(body, "data.0.url").String())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   retry.Kind
		target error
		detail string
	}{
		{"rate limited", 429, `{"error":{"code":"1302","message":"too many requests"}}`, retry.Retryable, upstream.ErrRateLimited, "too many requests"},
		{"provider rate code", 500, `{"error":{"code":"1305","message":"busy"}}`, retry.Retryable, upstream.ErrRateLimited, "busy"},
		{"bad request", 400, `{"error":{"code":"1210","message":"bad size"}}`, retry.Fatal, upstream.ErrInvalidRequest, "bad size"},
		{"unauthorized", 401, `{"error":{"message":"token expired"}}`, retry.Fatal, upstream.ErrUnauthorized, "token expired"},
		{"forbidden", 403, `nope`, retry.Fatal, upstream.ErrForbidden, "nope"},
		{"server error", 503, `<html>down</html>`, retry.Fatal, upstream.ErrUpstreamFailure, "<html>down</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
			kind, err := Classify(resp)
			assert.Equal(t, tt.kind, kind)
			assert.ErrorIs(t, err, tt.target)
			var se *upstream.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.detail, se.Detail)
		})
	}
}

func TestClassifyTrimsLongDetail(t *testing.T) {
	resp := &http.Response{StatusCode: 502, Body: io.NopCloser(strings.NewReader(strings.Repeat("x", 2000)))}
	_, err := Classify(resp)
	var se *upstream.StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.Detail, maxErrorDetail+3)
}

func TestReadJSONRejectsGarbage(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("<html>"))}
	_, err := ReadJSON(resp)
	assert.ErrorIs(t, err, upstream.ErrUpstreamFailure)
}

func TestOfflineEndpoints(t *testing.T) {
	c := New("https://upstream.invalid/api/paas/v4/", false)
	b := upstream.NewBuilder(upstream.Models{})
	ctx := context.Background()

	chat := b.Build(upstream.CapabilityChat, upstream.Params{Messages: []models.Message{models.TextMessage("user", "hi")}})
	resp, err := c.Send(ctx, chat, cred)
	require.NoError(t, err)
	body, err := ReadJSON(resp)
	require.NoError(t, err)
	assert.Contains(t, normalize.ExtractText(body), "Offline response from glm-4.6")

	structured := b.Build(upstream.CapabilityChat, upstream.Params{DisableThinking: true})
	resp, err = c.Send(ctx, structured, cred)
	require.NoError(t, err)
	body, err = ReadJSON(resp)
	require.NoError(t, err)
	res := normalize.Normalize(normalize.ExtractText(body), normalize.Bare)
	assert.True(t, res.Parsed)
	assert.Equal(t, "Offline draft", res.Value["title"])

	streaming := b.Build(upstream.CapabilityChat, upstream.Params{Stream: true})
	resp, err = c.Send(ctx, streaming, cred)
	require.NoError(t, err)
	var sb strings.Builder
	st, err := stream.Relay(ctx, resp.Body, func(tok string) error { sb.WriteString(tok); return nil }, nil)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Contains(t, sb.String(), "Offline response")

	video := b.Build(upstream.CapabilityVideo, upstream.Params{ImageURLs: []string{"https://img/1.png"}})
	resp, err = c.Send(ctx, video, cred)
	require.NoError(t, err)
	body, err = ReadJSON(resp)
	require.NoError(t, err)
	id := gjson.GetBytes(body, "id").String()
	require.NotEmpty(t, id)

	resp, err = c.Get(ctx, upstream.PathAsyncResult+id, cred)
	require.NoError(t, err)
	body, err = ReadJSON(resp)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", gjson.GetBytes(body, "task_status").String())
	assert.Contains(t, gjson.GetBytes(body, "video_result.0.url").String(), id)

	resp, err = c.Get(ctx, "nowhere", cred)
	require.NoError(t, err)
	kind, err := Classify(resp)
	assert.Equal(t, retry.Fatal, kind)
	assert.ErrorIs(t, err, upstream.ErrUpstreamFailure)
}
