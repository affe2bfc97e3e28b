// Package upstream describes calls to the generative-AI provider: which
// capability is targeted, which model and credential tier it needs, and how
// the request body is laid out on the wire. Nothing here performs network I/O.
package upstream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	"storygate/internal/credentials"
	"storygate/internal/models"
)

type Capability string

const (
	CapabilityChat        Capability = "chat"
	CapabilityImage       Capability = "image"
	CapabilityVideo       Capability = "video"
	CapabilityVisionImage Capability = "vision-image"
	CapabilityVisionVideo Capability = "vision-video"
	CapabilitySearch      Capability = "search"
)

func (c Capability) Valid() bool {
	switch c {
	case CapabilityChat, CapabilityImage, CapabilityVideo, CapabilityVisionImage, CapabilityVisionVideo, CapabilitySearch:
		return true
	}
	return false
}

// Tier reports which credential tier the capability must use. Vision and
// search are gated behind the elevated credential.
func (c Capability) Tier() credentials.Tier {
	switch c {
	case CapabilityVisionImage, CapabilityVisionVideo, CapabilitySearch:
		return credentials.TierElevated
	default:
		return credentials.TierStandard
	}
}

const (
	PathChat        = "chat/completions"
	PathImages      = "images/generations"
	PathVideos      = "videos/generations"
	PathAsyncResult = "async-result/"
)

// Request is an immutable description of one upstream call.
type Request struct {
	Capability  Capability
	Model       string
	Messages    []models.Message
	Prompt      string
	ImageURLs   []string
	Size        string
	Quality     string
	FPS         int
	Temperature float64
	MaxTokens   int
	Stream      bool
	Tools       []models.Tool
	// Extra holds provider-specific top-level fields as sjson paths.
	Extra map[string]any
	Tier  credentials.Tier
}

func (r Request) Path() string {
	switch r.Capability {
	case CapabilityImage:
		return PathImages
	case CapabilityVideo:
		return PathVideos
	default:
		return PathChat
	}
}

// Body renders the JSON payload for the capability's endpoint.
func (r Request) Body() ([]byte, error) {
	var payload any
	switch r.Capability {
	case CapabilityImage:
		payload = models.ImageGenerationRequest{Model: r.Model, Prompt: r.Prompt, Size: r.Size}
	case CapabilityVideo:
		payload = models.VideoGenerationRequest{
			Model:    r.Model,
			ImageURL: r.ImageURLs,
			Prompt:   r.Prompt,
			Quality:  r.Quality,
			Size:     r.Size,
			FPS:      r.FPS,
		}
	default:
		payload = models.ChatCompletionRequest{
			Model:       r.Model,
			Messages:    r.Messages,
			Stream:      r.Stream,
			MaxTokens:   r.MaxTokens,
			Temperature: r.Temperature,
			Tools:       r.Tools,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	for path, v := range r.Extra {
		body, err = sjson.SetBytes(body, path, v)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", path, err)
		}
	}
	return body, nil
}

// PromptText flattens the textual content of the request, for hashing.
func (r Request) PromptText() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	var b strings.Builder
	for _, m := range r.Messages {
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteByte(' ')
		}
		for _, p := range m.Parts {
			if p.Text != "" {
				b.WriteString(p.Text)
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

// URL joins a provider base URL and an endpoint path.
func URL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
