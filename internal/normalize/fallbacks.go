package normalize

import "github.com/tidwall/gjson"

// Bare degrades to just the raw text.
func Bare() map[string]any { return map[string]any{} }

// Character is the skeleton for character sheets.
func Character(name string) Fallback {
	if name == "" {
		name = "Unnamed character"
	}
	return func() map[string]any {
		return map[string]any{
			"basic_info":  map[string]any{"name": name},
			"appearance":  map[string]any{"description": "See raw content for appearance details"},
			"personality": map[string]any{"description": "See raw content for personality details"},
			"background":  map[string]any{"description": "See raw content for background details"},
		}
	}
}

// Storyboard is a single explanatory shot.
func Storyboard() map[string]any {
	return map[string]any{
		"shot_number": 1,
		"shot_type":   "note",
		"description": "The model reply could not be parsed as JSON; see raw_content",
		"duration":    "-",
		"note":        "parse failed",
	}
}

// Named returns the fallback registered under kind, or Bare.
func Named(kind, name string) Fallback {
	switch kind {
	case "character":
		return Character(name)
	case "storyboard":
		return Storyboard
	default:
		return Bare
	}
}

// ExtractText reads the reply text from a chat completion body. Shapes are
// tried in order: string content, a list of text parts, then reasoning_content.
func ExtractText(body []byte) string {
	msg := gjson.GetBytes(body, "choices.0.message")
	content := msg.Get("content")
	switch {
	case content.Type == gjson.String && content.String() != "":
		return content.String()
	case content.IsArray():
		var text string
		for _, part := range content.Array() {
			if t := part.Get("text"); t.Type == gjson.String {
				text += t.String()
			}
		}
		if text != "" {
			return text
		}
	}
	return msg.Get("reasoning_content").String()
}
