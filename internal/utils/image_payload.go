package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// MaxMediaBytes caps downloads of remote media.
const MaxMediaBytes = 32 << 20

// DecodeMediaPayload decodes an inline base64 or data URL payload and returns
// the raw bytes together with a guessed file extension.
func DecodeMediaPayload(payload string) ([]byte, string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, "", errors.New("empty media payload")
	}

	mimeType, base64Payload := SplitDataURL(trimmed)
	base64Payload = strings.TrimSpace(base64Payload)
	if base64Payload == "" {
		return nil, "", errors.New("empty base64 payload")
	}

	data, err := base64.StdEncoding.DecodeString(base64Payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}

	return data, guessExtension(mimeType, data), nil
}

// FetchMedia resolves an image reference into bytes. Data URLs are decoded in
// place, http(s) URLs are downloaded with the given client.
func FetchMedia(ctx context.Context, client *http.Client, source string) ([]byte, string, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return nil, "", errors.New("empty media source")
	case strings.HasPrefix(source, "data:"):
		return DecodeMediaPayload(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
	default:
		return nil, "", fmt.Errorf("unsupported media source %q", source)
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, "", errors.New("image exceeds download limit")
	}
	if len(data) == 0 {
		return nil, "", errors.New("image payload empty")
	}
	return data, guessExtension(resp.Header.Get("Content-Type"), data), nil
}

func guessExtension(mimeType string, data []byte) string {
	ext := ExtensionFromMime(mimeType)
	if ext == "" {
		ext = ExtensionFromMime(http.DetectContentType(data))
	}
	if ext == "" {
		ext = "png"
	}
	return ext
}

// ExtensionFromMime maps an image content type to a file extension without the dot.
func ExtensionFromMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}

	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/svg+xml":
		return "svg"
	case "image/heic":
		return "heic"
	case "image/heif":
		return "heif"
	default:
		return ""
	}
}

// SplitDataURL returns the mime type and base64 body of a data URL. Plain
// base64 is assumed to be png.
func SplitDataURL(value string) (string, string) {
	if !strings.HasPrefix(value, "data:") {
		return "image/png", value
	}

	value = strings.TrimPrefix(value, "data:")
	parts := strings.SplitN(value, ";base64,", 2)
	if len(parts) != 2 {
		return "image/png", ""
	}
	return parts[0], parts[1]
}
