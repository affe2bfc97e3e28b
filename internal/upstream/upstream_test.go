package upstream

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"storygate/internal/credentials"
	"storygate/internal/models"
)

func TestBuildTiers(t *testing.T) {
	b := NewBuilder(Models{})
	tests := []struct {
		capability Capability
		tier       credentials.Tier
		model      string
		path       string
	}{
		{CapabilityChat, credentials.TierStandard, DefaultChatModel, PathChat},
		{CapabilityImage, credentials.TierStandard, DefaultImageModel, PathImages},
		{CapabilityVideo, credentials.TierStandard, DefaultVideoModel, PathVideos},
		{CapabilityVisionImage, credentials.TierElevated, DefaultVisionModel, PathChat},
		{CapabilityVisionVideo, credentials.TierElevated, DefaultVisionModel, PathChat},
		{CapabilitySearch, credentials.TierElevated, DefaultSearchModel, PathChat},
	}
	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			req := b.Build(tt.capability, Params{Prompt: "p", Query: "q", MediaURL: "https://x/y.png"})
			assert.Equal(t, tt.tier, req.Tier)
			assert.Equal(t, tt.model, req.Model)
			assert.Equal(t, tt.path, req.Path())
		})
	}
}

func TestBuildInvalidCapabilityPanics(t *testing.T) {
	b := NewBuilder(Models{})
	assert.Panics(t, func() { b.Build(Capability("telepathy"), Params{}) })
}

func TestModelOverride(t *testing.T) {
	b := NewBuilder(Models{Chat: "glm-4-flash"})
	assert.Equal(t, "glm-4-flash", b.Build(CapabilityChat, Params{}).Model)
	assert.Equal(t, "custom", b.Build(CapabilityChat, Params{Model: "custom"}).Model)
	assert.Equal(t, DefaultImageModel, b.Models.Image)
}

func TestChatBodyWithThinkingDisabled(t *testing.T) {
	b := NewBuilder(Models{})
	req := b.Build(CapabilityChat, Params{
		Messages:        []models.Message{models.TextMessage("system", "be brief"), models.TextMessage("user", "hi")},
		DisableThinking: true,
		Stream:          true,
	})
	body, err := req.Body()
	require.NoError(t, err)

	j := gjson.ParseBytes(body)
	assert.Equal(t, "glm-4.6", j.Get("model").String())
	assert.Equal(t, "disabled", j.Get("thinking.type").String())
	assert.True(t, j.Get("stream").Bool())
	assert.Equal(t, 0.7, j.Get("temperature").Float())
	assert.Equal(t, int64(2000), j.Get("max_tokens").Int())
	assert.Equal(t, "hi", j.Get("messages.1.content").String())
}

func TestVisionBodyIsMultipart(t *testing.T) {
	b := NewBuilder(Models{})
	body, err := b.Build(CapabilityVisionVideo, Params{MediaURL: "https://cdn/v.mp4"}).Body()
	require.NoError(t, err)

	j := gjson.ParseBytes(body)
	assert.Equal(t, "video_url", j.Get("messages.0.content.0.type").String())
	assert.Equal(t, "https://cdn/v.mp4", j.Get("messages.0.content.0.video_url.url").String())
	assert.Equal(t, "text", j.Get("messages.0.content.1.type").String())
	assert.Equal(t, int64(3000), j.Get("max_tokens").Int())
}

func TestSearchBodyCarriesTool(t *testing.T) {
	b := NewBuilder(Models{})
	body, err := b.Build(CapabilitySearch, Params{Query: "cyberpunk novels"}).Body()
	require.NoError(t, err)

	j := gjson.ParseBytes(body)
	assert.Equal(t, "web_search", j.Get("tools.0.type").String())
	assert.Equal(t, "cyberpunk novels", j.Get("tools.0.web_search.search_query").String())
	assert.True(t, strings.Contains(j.Get("messages.0.content").String(), "cyberpunk novels"))
}

func TestVideoBody(t *testing.T) {
	b := NewBuilder(Models{})
	body, err := b.Build(CapabilityVideo, Params{ImageURLs: []string{"a", "b"}}).Body()
	require.NoError(t, err)

	j := gjson.ParseBytes(body)
	assert.Equal(t, int64(2), j.Get("image_url.#").Int())
	assert.Equal(t, int64(30), j.Get("fps").Int())
	assert.Equal(t, "1920x1080", j.Get("size").String())
	assert.False(t, j.Get("with_audio").Bool())
}

func TestStatusErrorUnwrap(t *testing.T) {
	err := &StatusError{Status: 403, Detail: "no cogview grant", Kind: KindFor(403)}
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Contains(t, err.Error(), "no cogview grant")
	assert.Equal(t, "forbidden", KindName(err))
	assert.Equal(t, "rate_limited", KindName(ErrRateLimitExhausted))
	assert.Equal(t, "empty_result", KindName(ErrEmptyResult))
	assert.True(t, errors.Is(ErrEmptyResult, ErrUpstreamFailure))
}

func TestURL(t *testing.T) {
	assert.Equal(t, "https://h/api/paas/v4/chat/completions", URL("https://h/api/paas/v4/", PathChat))
	assert.Equal(t, "https://h/v4/async-result/42", URL("https://h/v4", PathAsyncResult+"42"))
}

func TestMediaResolverInlinesOwnUploads(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "uploads"), 0o755))
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(filepath.Join(root, "uploads", "ref.png"), png, 0o644))

	r := MediaResolver{OwnPrefixes: []string{"http://localhost:8000/"}, Root: root}

	got, err := r.Resolve("http://localhost:8000/uploads/ref.png", CapabilityVisionImage)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), got)

	remote, err := r.Resolve("https://cdn.example.com/a.png", CapabilityVisionImage)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", remote)

	_, err = r.Resolve("http://localhost:8000/uploads/missing.png", CapabilityVisionImage)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = r.Resolve("http://localhost:8000/../etc/passwd", CapabilityVisionImage)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMediaTypeFallsBackToExtension(t *testing.T) {
	assert.Equal(t, "video/webm", mediaType([]byte("not really a video"), "clip.webm", CapabilityVisionVideo))
	assert.Equal(t, "video/mp4", mediaType([]byte("???"), "clip.bin", CapabilityVisionVideo))
	assert.Equal(t, "image/jpeg", mediaType([]byte("???"), "pic", CapabilityVisionImage))
}
