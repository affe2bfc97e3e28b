package models

import (
	"encoding/json"
	"time"
)

type MediaURL struct {
	URL string `json:"url"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *MediaURL `json:"image_url,omitempty"`
	VideoURL *MediaURL `json:"video_url,omitempty"`
}

// Message carries either plain text content or a multi-part content list.
// Parts wins when both are set.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	if len(raw.Content) == 0 {
		return nil
	}
	if raw.Content[0] == '[' {
		return json.Unmarshal(raw.Content, &m.Parts)
	}
	return json.Unmarshal(raw.Content, &m.Content)
}

func TextMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

type WebSearchTool struct {
	Enable       bool   `json:"enable"`
	SearchQuery  string `json:"search_query"`
	SearchResult bool   `json:"search_result"`
}

type Tool struct {
	Type      string         `json:"type"`
	WebSearch *WebSearchTool `json:"web_search,omitempty"`
}

type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

type ImageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type VideoGenerationRequest struct {
	Model     string   `json:"model"`
	ImageURL  []string `json:"image_url"`
	Prompt    string   `json:"prompt"`
	Quality   string   `json:"quality,omitempty"`
	WithAudio bool     `json:"with_audio"`
	Size      string   `json:"size,omitempty"`
	FPS       int      `json:"fps,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// CallLog is one ledger row per gateway operation.
type CallLog struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	Capability      string    `json:"capability"`
	Model           string    `json:"model"`
	LatencyMS       int64     `json:"latency_ms"`
	TTFTMS          int64     `json:"ttft_ms"`
	Attempts        int       `json:"attempts"`
	Rotations       int       `json:"rotations"`
	CredentialIndex int       `json:"credential_index"`
	Tokens          int       `json:"tokens"`
	CostCNY         float64   `json:"cost_cny"`
	PromptHash      string    `json:"prompt_hash"`
	Degraded        bool      `json:"degraded"`
	ErrorKind       string    `json:"error_kind"`
	CreatedAt       time.Time `json:"created_at"`
}

type CapabilityUsage struct {
	Capability string  `json:"capability"`
	Calls      int     `json:"calls"`
	Failures   int     `json:"failures"`
	Tokens     int     `json:"tokens"`
	CostCNY    float64 `json:"cost_cny"`
}
