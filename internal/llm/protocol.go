package llm

import (
	"bytes"
	"encoding/json"
	"nexus/internal/entity"
	"strings"
	"time"
)

// ShapeError reports a 2xx provider response whose body cannot be turned into
// a GenerationResult.
type ShapeError struct {
	Message string
}

func (e *ShapeError) Error() string {
	return e.Message
}

var (
	ErrEmptyBody     = &ShapeError{Message: "Empty response from image generation service"}
	ErrMalformedBody = &ShapeError{Message: "Malformed response from image generation service"}
	ErrMissingData   = &ShapeError{Message: "No image data in response from service"}
	ErrDataNotArray  = &ShapeError{Message: "Malformed image data in response from service"}
	ErrEmptyData     = &ShapeError{Message: "No images in response from service"}
	ErrMissingURL    = &ShapeError{Message: "Invalid image data in response"}
)

type imagesResponse struct {
	Created *int64          `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type imageItem struct {
	URL *string `json:"url"`
}

// ParseImagesResponse turns a provider body into a GenerationResult. The
// returned error is always a *ShapeError. now supplies created when the
// provider omits it.
func ParseImagesResponse(body []byte, now func() time.Time) (*entity.GenerationResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyBody
	}

	var resp imagesResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, ErrMalformedBody
	}

	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrMissingData
	}
	if data[0] != '[' {
		return nil, ErrDataNotArray
	}

	var items []imageItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, ErrMissingURL
	}
	if len(items) == 0 {
		return nil, ErrEmptyData
	}

	images := make([]string, 0, len(items))
	for _, item := range items {
		if item.URL == nil || strings.TrimSpace(*item.URL) == "" {
			return nil, ErrMissingURL
		}
		images = append(images, *item.URL)
	}

	created := int64(0)
	if resp.Created != nil && *resp.Created > 0 {
		created = *resp.Created
	} else {
		if now == nil {
			now = time.Now
		}
		created = now().Unix()
	}

	return &entity.GenerationResult{Images: images, Created: created}, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// providerErrorMessage extracts error or message from a provider error body.
// error may be a string or an object carrying message.
func providerErrorMessage(body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
	}
	return ""
}
