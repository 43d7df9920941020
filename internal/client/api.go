package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"nexus/internal/entity"
	"strings"
	"time"
)

const (
	generatePath = "/api/images/generate"
	editPath     = "/api/images/edit"
	loginPath    = "/api/users/login"
	historyPath  = "/api/images/history"
)

// TokenSource supplies the bearer token for each request. Store implements it.
type TokenSource interface {
	Token() string
}

// APIError carries the error string of the server envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Count   int             `json:"count"`
	Data    json.RawMessage `json:"data"`
}

// APIClient talks to the Nexus REST API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewAPIClient constructs a client for baseURL. If httpClient is nil a client
// with a 90 second timeout is used.
func NewAPIClient(baseURL string, httpClient *http.Client, tokens TokenSource) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		tokens:     tokens,
	}
}

func (c *APIClient) Generate(ctx context.Context, req entity.GenerateImageRequest) (*entity.GenerationResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	var resp entity.GenerationResponse
	if _, err := c.do(ctx, http.MethodPost, generatePath, "application/json", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Edit(ctx context.Context, req entity.EditImageRequest) (*entity.GenerationResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, field := range []struct{ name, value string }{
		{"model", req.Model},
		{"prompt", req.Prompt},
		{"size", req.Size},
	} {
		if field.value == "" {
			continue
		}
		if err := writer.WriteField(field.name, field.value); err != nil {
			return nil, fmt.Errorf("write %s field: %w", field.name, err)
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Image)
	}
	filename := req.Filename
	if filename == "" {
		filename = "image.png"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var resp entity.GenerationResponse
	if _, err := c.do(ctx, http.MethodPost, editPath, writer.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Login(ctx context.Context, email, password string) (*entity.AuthResponse, error) {
	payload, err := json.Marshal(entity.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	var resp entity.AuthResponse
	if _, err := c.do(ctx, http.MethodPost, loginPath, "application/json", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns the caller's persisted images, newest first.
func (c *APIClient) History(ctx context.Context) ([]entity.DbImage, error) {
	var images []entity.DbImage
	if _, err := c.do(ctx, http.MethodGet, historyPath, "", nil, &images); err != nil {
		return nil, err
	}
	return images, nil
}

func (c *APIClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) (*envelope, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 || (decodeErr == nil && !env.Success) {
		message := env.Error
		if decodeErr != nil || message == "" {
			message = fmt.Sprintf("API returned status %d", resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding response: %w", decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decoding response data: %w", err)
		}
	}
	return &env, nil
}
