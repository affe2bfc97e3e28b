package upstream

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MediaResolver turns media references into something the upstream can
// fetch. References pointing at this service's own upload path are read from
// disk and inlined as base64 data URIs; anything else passes through.
type MediaResolver struct {
	// OwnPrefixes are URL prefixes served by this process, e.g. "http://localhost:8000/".
	OwnPrefixes []string
	// Root is the directory own-prefix paths are resolved against.
	Root string
}

var extMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

func (m MediaResolver) Resolve(ref string, c Capability) (string, error) {
	rel, ok := m.localPath(ref)
	if !ok {
		return ref, nil
	}
	root := m.Root
	if root == "" {
		root = "."
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if !withinRoot(root, path) {
		return "", fmt.Errorf("%w: media path escapes upload root", ErrInvalidRequest)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: media file not found: %s", ErrInvalidRequest, rel)
		}
		return "", err
	}
	mime := mediaType(data, path, c)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (m MediaResolver) localPath(ref string) (string, bool) {
	for _, p := range m.OwnPrefixes {
		if p != "" && strings.HasPrefix(ref, p) {
			return strings.TrimPrefix(strings.TrimPrefix(ref, p), "/"), true
		}
	}
	return "", false
}

func mediaType(data []byte, path string, c Capability) string {
	family, def := "image/", "image/jpeg"
	if c == CapabilityVisionVideo {
		family, def = "video/", "video/mp4"
	}
	if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), family) {
		return strings.SplitN(detected.String(), ";", 2)[0]
	}
	if t, ok := extMIME[strings.ToLower(filepath.Ext(path))]; ok && strings.HasPrefix(t, family) {
		return t
	}
	return def
}

func withinRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
