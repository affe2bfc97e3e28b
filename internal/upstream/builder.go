package upstream

import (
	"fmt"

	"storygate/internal/models"
)

const (
	DefaultChatModel   = "glm-4.6"
	DefaultImageModel  = "cogview-4-250304"
	DefaultVideoModel  = "cogvideox-3"
	DefaultVisionModel = "glm-4.5v"
	DefaultSearchModel = "glm-4-air"
)

// Models maps each capability to the upstream model id.
type Models struct {
	Chat   string
	Image  string
	Video  string
	Vision string
	Search string
}

func DefaultModels() Models {
	return Models{
		Chat:   DefaultChatModel,
		Image:  DefaultImageModel,
		Video:  DefaultVideoModel,
		Vision: DefaultVisionModel,
		Search: DefaultSearchModel,
	}
}

// Params are the domain inputs for any capability; each capability reads
// only the fields it needs.
type Params struct {
	Model           string
	Messages        []models.Message
	Prompt          string
	MediaURL        string
	ImageURLs       []string
	Size            string
	Quality         string
	FPS             int
	Temperature     float64
	MaxTokens       int
	Stream          bool
	Query           string
	DisableThinking bool
}

type Builder struct {
	Models Models
}

func NewBuilder(m Models) *Builder {
	d := DefaultModels()
	if m.Chat == "" {
		m.Chat = d.Chat
	}
	if m.Image == "" {
		m.Image = d.Image
	}
	if m.Video == "" {
		m.Video = d.Video
	}
	if m.Vision == "" {
		m.Vision = d.Vision
	}
	if m.Search == "" {
		m.Search = d.Search
	}
	return &Builder{Models: m}
}

// Build produces the request for capability c. An unknown capability is a
// programming error and panics.
func (b *Builder) Build(c Capability, p Params) Request {
	if !c.Valid() {
		panic(fmt.Sprintf("upstream: invalid capability %q", c))
	}
	req := Request{Capability: c, Tier: c.Tier()}
	switch c {
	case CapabilityChat:
		req.Model = pick(p.Model, b.Models.Chat)
		req.Messages = p.Messages
		req.Temperature = orFloat(p.Temperature, 0.7)
		req.MaxTokens = orInt(p.MaxTokens, 2000)
		req.Stream = p.Stream
		if p.DisableThinking {
			req.Extra = map[string]any{"thinking.type": "disabled"}
		}
	case CapabilityImage:
		req.Model = pick(p.Model, b.Models.Image)
		req.Prompt = p.Prompt
		req.Size = pick(p.Size, "1024x1024")
	case CapabilityVideo:
		req.Model = pick(p.Model, b.Models.Video)
		req.Prompt = pick(p.Prompt, "Animate the scene")
		req.ImageURLs = p.ImageURLs
		req.Quality = pick(p.Quality, "quality")
		req.Size = pick(p.Size, "1920x1080")
		req.FPS = orInt(p.FPS, 30)
	case CapabilityVisionImage, CapabilityVisionVideo:
		req.Model = pick(p.Model, b.Models.Vision)
		media := models.ContentPart{Type: "image_url", ImageURL: &models.MediaURL{URL: p.MediaURL}}
		defaultPrompt := "Describe this image in detail."
		maxTokens := 2000
		if c == CapabilityVisionVideo {
			media = models.ContentPart{Type: "video_url", VideoURL: &models.MediaURL{URL: p.MediaURL}}
			defaultPrompt = "Analyze the content of this video in detail."
			maxTokens = 3000
		}
		req.Messages = []models.Message{{
			Role: "user",
			Parts: []models.ContentPart{
				media,
				{Type: "text", Text: pick(p.Prompt, defaultPrompt)},
			},
		}}
		req.MaxTokens = orInt(p.MaxTokens, maxTokens)
		req.Temperature = p.Temperature
	case CapabilitySearch:
		req.Model = pick(p.Model, b.Models.Search)
		req.Messages = p.Messages
		if len(req.Messages) == 0 {
			req.Messages = []models.Message{models.TextMessage("user",
				fmt.Sprintf("Search for the latest information about '%s' and report detailed results.", p.Query))}
		}
		req.Tools = []models.Tool{{
			Type:      "web_search",
			WebSearch: &models.WebSearchTool{Enable: true, SearchQuery: p.Query, SearchResult: true},
		}}
		req.MaxTokens = orInt(p.MaxTokens, 3000)
		req.Temperature = p.Temperature
	}
	return req
}

func pick(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
