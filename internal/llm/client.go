package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"nexus/internal/apperr"
	"nexus/internal/config"
	"nexus/internal/entity"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ProviderName identifies the upstream image API in logs.
const ProviderName = "infip"

const (
	generationsPath = "/v1/images/generations"
	editsPath       = "/v1/images/edits"
	modelsPath      = "/v1/models"

	maxResponseBytes = 8 << 20
	healthTimeout    = 10 * time.Second
)

// Client calls the OpenAI compatible image endpoints of the provider. Every
// call is a single attempt; retries are left to callers.
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	generateTimeout time.Duration
	editTimeout     time.Duration
	now             func() time.Time
}

func NewClient(cfg config.Config) *Client {
	return NewClientWithHTTPClient(cfg, &http.Client{})
}

func NewClientWithHTTPClient(cfg config.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	generateTimeout := cfg.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = 30 * time.Second
	}
	editTimeout := cfg.EditTimeout
	if editTimeout <= 0 {
		editTimeout = 60 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.ProviderBaseURL), "/"),
		apiKey:          strings.TrimSpace(cfg.ProviderAPIKey),
		httpClient:      httpClient,
		generateTimeout: generateTimeout,
		editTimeout:     editTimeout,
		now:             time.Now,
	}
}

type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type EditRequest struct {
	Model       string
	Prompt      string
	Size        string
	Image       []byte
	Filename    string
	ContentType string
}

// Generate posts a JSON text-to-image request.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*entity.GenerationResult, error) {
	logger := providerLogger(ctx, "generate", req.Model)
	if c.apiKey == "" {
		logger.Error("provider api key not configured")
		return nil, apperr.Internal(msgAPIKeyMissing, nil)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Internal("", fmt.Errorf("marshal generate request: %w", err))
	}

	callCtx, cancel := c.callContext(ctx, c.generateTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+generationsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Internal("", fmt.Errorf("build generate request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.WithFields(logrus.Fields{
		"n":             req.N,
		"size":          req.Size,
		"prompt_length": len(req.Prompt),
		"prompt":        logSnippet(req.Prompt),
	}).Info("provider generate request")

	return c.doImages(httpReq, logger)
}

// Edit posts a multipart image edit request.
func (c *Client) Edit(ctx context.Context, req EditRequest) (*entity.GenerationResult, error) {
	logger := providerLogger(ctx, "edit", req.Model)
	if c.apiKey == "" {
		logger.Error("provider api key not configured")
		return nil, apperr.Internal(msgAPIKeyMissing, nil)
	}

	body, contentType, err := buildEditForm(req)
	if err != nil {
		return nil, apperr.Internal("", fmt.Errorf("build edit form: %w", err))
	}

	callCtx, cancel := c.callContext(ctx, c.editTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+editsPath, body)
	if err != nil {
		return nil, apperr.Internal("", fmt.Errorf("build edit request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)

	logger.WithFields(logrus.Fields{
		"size":        req.Size,
		"image_bytes": len(req.Image),
		"prompt":      logSnippet(req.Prompt),
	}).Info("provider edit request")

	return c.doImages(httpReq, logger)
}

// ListModels returns the model ids reported by the provider. It doubles as a
// reachability check.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	logger := providerLogger(ctx, "models", "")
	if c.apiKey == "" {
		return nil, apperr.Internal(msgAPIKeyMissing, nil)
	}

	callCtx, cancel := c.callContext(ctx, healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return nil, apperr.Internal("", fmt.Errorf("build models request: %w", err))
	}

	status, body, err := c.send(httpReq)
	if err != nil {
		logger.WithError(err).Warn("provider unreachable")
		return nil, unreachable(err)
	}
	if status < 200 || status >= 300 {
		return nil, classifyStatus(status, body)
	}

	var resp modelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Upstream(http.StatusBadGateway, ErrMalformedBody.Message, err)
	}
	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		if id := strings.TrimSpace(m.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) doImages(req *http.Request, logger *logrus.Entry) (*entity.GenerationResult, error) {
	start := time.Now()
	status, body, err := c.send(req)
	if err != nil {
		logger.WithError(err).WithField("elapsed", time.Since(start).String()).Error("provider unreachable")
		return nil, unreachable(err)
	}

	if status < 200 || status >= 300 {
		appErr := classifyStatus(status, body)
		logger.WithFields(logrus.Fields{
			"status":  status,
			"body":    logSnippet(string(body)),
			"api_key": maskKey(c.apiKey),
		}).Error("provider returned error status")
		return nil, appErr
	}

	result, err := ParseImagesResponse(body, c.now)
	if err != nil {
		logger.WithError(err).WithField("body", logSnippet(string(body))).Error("provider response rejected")
		return nil, apperr.Upstream(http.StatusBadGateway, err.Error(), err)
	}

	logger.WithFields(logrus.Fields{
		"images":  len(result.Images),
		"elapsed": time.Since(start).String(),
	}).Info("provider request succeeded")
	return result, nil
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read provider response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// callContext detaches the outbound call from the inbound request: a client
// disconnect does not cancel it, only the per-call timeout does.
func (c *Client) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func buildEditForm(req EditRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "image.png"
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = http.DetectContentType(req.Image)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%s`, strconv.Quote(filename)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}

	for _, field := range [][2]string{{"prompt", req.Prompt}, {"model", req.Model}, {"size", req.Size}} {
		if field[1] == "" {
			continue
		}
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
