package entity

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// GenerationResult 归一化后的生成结果，Images 保持服务商返回的顺序
type GenerationResult struct {
	Images  []string `json:"images"`
	Created int64    `json:"created"`
}

// ImageCount accepts n as a JSON number or string and keeps the raw text so
// validation can report non-numeric input.
type ImageCount string

func (n *ImageCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = ImageCount(s)
		return nil
	}
	*n = ImageCount(data)
	return nil
}

func (n ImageCount) MarshalJSON() ([]byte, error) {
	if v, err := strconv.Atoi(string(n)); err == nil {
		return []byte(strconv.Itoa(v)), nil
	}
	return json.Marshal(string(n))
}

type GenerateImageRequest struct {
	Model  string     `json:"model"`
	Prompt string     `json:"prompt"`
	N      ImageCount `json:"n"`
	Size   string     `json:"size"`
}

// EditImageRequest is the decoded multipart edit payload.
type EditImageRequest struct {
	Model       string
	Prompt      string
	Size        string
	Image       []byte
	Filename    string
	ContentType string
}

// GenerationResponse is the data part of the generate/edit envelope.
type GenerationResponse struct {
	Images  []string `json:"images"`
	Created int64    `json:"created"`
	ID      uint     `json:"id,omitempty"`
}

// ModelCatalog describes what the generate and edit endpoints accept.
type ModelCatalog struct {
	Models       []string `json:"models"`
	EditModels   []string `json:"editModels"`
	Sizes        []string `json:"sizes"`
	DefaultModel string   `json:"defaultModel"`
	DefaultSize  string   `json:"defaultSize"`
}
