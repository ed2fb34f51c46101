package transcription

import (
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

// AudioAsset is caller-owned audio for one transcription call. The pipeline never retains it.
type AudioAsset struct {
	Data        []byte
	Size        int64
	ContentType string
	Filename    string
}

// size returns the larger of the declared and actual byte counts.
func (a AudioAsset) size() int64 {
	return max(a.Size, int64(len(a.Data)))
}

func (a AudioAsset) extension() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(a.Filename), "."))
}

// validateAudio runs every local check that must pass before a network call.
func validateAudio(a AudioAsset, maxSize int64, allowedExtensions []string) error {
	if len(a.Data) == 0 {
		return providererr.New(providererr.KindInvalidRequest, "", "audio is empty")
	}
	if maxSize > 0 && a.size() > maxSize {
		return providererr.Newf(providererr.KindInvalidRequest, "", "audio is %d bytes, limit is %d", a.size(), maxSize)
	}

	mediaType, _, err := mime.ParseMediaType(a.ContentType)
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		return providererr.Newf(providererr.KindInvalidRequest, "", "content type %q is not audio/*", a.ContentType)
	}

	ext := a.extension()
	if ext == "" || !slices.Contains(allowedExtensions, ext) {
		return providererr.Newf(providererr.KindInvalidRequest, "", "file extension %q is not allowed (allowed: %s)", ext, strings.Join(allowedExtensions, ", "))
	}
	return nil
}

// ContentTypeForFilename guesses an audio content type from a file name.
func ContentTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
