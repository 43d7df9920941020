package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"nexus/internal/apperr"
	"nexus/internal/config"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.ProviderBaseURL = srv.URL
	cfg.ProviderAPIKey = "test-key-123456"
	client := NewClientWithHTTPClient(cfg, srv.Client())
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	return client, srv
}

func TestGeneratePreservesProviderOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != generationsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key-123456" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "img4" || req.N != 2 || req.Size != "1024x1024" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = io.WriteString(w, `{"created":1712345678,"data":[{"url":"https://x/1.png"},{"url":"https://x/2.png"}]}`)
	})

	result, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 2, Size: "1024x1024"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Images) != 2 || result.Images[0] != "https://x/1.png" || result.Images[1] != "https://x/2.png" {
		t.Fatalf("images = %v", result.Images)
	}
	if result.Created != 1712345678 {
		t.Fatalf("created = %d", result.Created)
	}
}

func TestGenerateCreatedFallback(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"url":"https://x/1.png"}]}`)
	})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Created != 1700000000 {
		t.Fatalf("created = %d, want local fallback", result.Created)
	}
}

func TestGenerateResponseShapeFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *ShapeError
	}{
		{"empty body", ``, ErrEmptyBody},
		{"not json", `<html>`, ErrMalformedBody},
		{"missing data", `{"created":1}`, ErrMissingData},
		{"data not array", `{"data":{"url":"https://x"}}`, ErrDataNotArray},
		{"empty data", `{"data":[]}`, ErrEmptyData},
		{"first item without url", `{"data":[{"b64_json":"abc"}]}`, ErrMissingURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			appErr := apperr.From(err)
			if appErr.Kind != apperr.KindUpstream || appErr.Status != http.StatusBadGateway {
				t.Fatalf("unexpected classification %+v", appErr)
			}
			if appErr.Message != tt.want.Message {
				t.Fatalf("message = %q, want %q", appErr.Message, tt.want.Message)
			}
		})
	}
}

func TestGenerateStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   apperr.Kind
		wantStatus int
		wantMsg    string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key sk-secret"}`, apperr.KindUpstream, http.StatusInternalServerError, msgInvalidAPIKey},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, apperr.KindRateLimit, http.StatusTooManyRequests, msgProviderLimited},
		{"bad request passthrough", http.StatusBadRequest, `{"error":"prompt rejected"}`, apperr.KindUpstream, http.StatusBadRequest, "prompt rejected"},
		{"nested message", http.StatusUnprocessableEntity, `{"error":{"message":"unsupported size"}}`, apperr.KindUpstream, http.StatusUnprocessableEntity, "unsupported size"},
		{"message field", http.StatusServiceUnavailable, `{"message":"maintenance"}`, apperr.KindUpstream, http.StatusServiceUnavailable, "maintenance"},
		{"no message", http.StatusInternalServerError, `oops`, apperr.KindUpstream, http.StatusInternalServerError, msgProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
			appErr := apperr.From(err)
			if appErr.Kind != tt.wantKind || appErr.Status != tt.wantStatus || appErr.Message != tt.wantMsg {
				t.Fatalf("got kind=%s status=%d msg=%q", appErr.Kind, appErr.Status, appErr.Message)
			}
		})
	}
}

func TestGenerateUnreachable(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
	appErr := apperr.From(err)
	if appErr.Kind != apperr.KindUnavailable || appErr.Status != http.StatusInternalServerError || appErr.Message != msgUnreachable {
		t.Fatalf("unexpected error %+v", appErr)
	}
}

func TestGenerateTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client.generateTimeout = 50 * time.Millisecond

	_, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
	if !apperr.IsKind(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable on timeout, got %v", err)
	}
}

func TestGenerateIgnoresInboundCancellation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"data":[{"url":"https://x/1.png"}]}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := client.Generate(ctx, GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
	if err != nil {
		t.Fatalf("expected call to complete despite cancelled inbound context, got %v", err)
	}
	if len(result.Images) != 1 {
		t.Fatalf("images = %v", result.Images)
	}
}

func TestGenerateWithoutAPIKey(t *testing.T) {
	called := false
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	client.apiKey = ""

	_, err := client.Generate(context.Background(), GenerateRequest{Model: "img4", Prompt: "a cat", N: 1})
	appErr := apperr.From(err)
	if appErr.Message != msgAPIKeyMissing || appErr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error %+v", appErr)
	}
	if called {
		t.Fatal("provider should not be called without an api key")
	}
}

func TestEditSendsMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != editsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("prompt") != "make it blue" || r.FormValue("model") != "img3" || r.FormValue("size") != "1792x1024" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		raw, _ := io.ReadAll(file)
		if string(raw) != "png-bytes" || header.Filename != "cat.png" || header.Header.Get("Content-Type") != "image/png" {
			t.Errorf("unexpected file %q %q %q", raw, header.Filename, header.Header.Get("Content-Type"))
		}
		_, _ = io.WriteString(w, `{"created":5,"data":[{"url":"https://x/edited.png"}]}`)
	})

	result, err := client.Edit(context.Background(), EditRequest{
		Model:       "img3",
		Prompt:      "make it blue",
		Size:        "1792x1024",
		Image:       []byte("png-bytes"),
		Filename:    "cat.png",
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if len(result.Images) != 1 || result.Images[0] != "https://x/edited.png" || result.Created != 5 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestListModels(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modelsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"img3"},{"id":"img4"},{"id":""}]}`)
	})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "img3" || models[1] != "img4" {
		t.Fatalf("models = %v", models)
	}
}

func TestMaskKey(t *testing.T) {
	if got := maskKey("sk-1234567890"); got != "sk-1...7890" {
		t.Fatalf("maskKey = %q", got)
	}
	if got := maskKey("short"); got != "*****" {
		t.Fatalf("maskKey = %q", got)
	}
}
