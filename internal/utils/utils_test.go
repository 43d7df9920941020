package utils

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPromptToken(t *testing.T) {
	tests := []struct {
		prompt string
		limit  int
		want   string
	}{
		{"a red fox", 20, "a_red_fox"},
		{"A very long prompt that keeps going", 20, "A_very_long_prompt_t"},
		{"  neon city!  ", 20, "neon_city_"},
		{"", 20, ""},
	}
	for _, tt := range tests {
		if got := PromptToken(tt.prompt, tt.limit); got != tt.want {
			t.Errorf("PromptToken(%q) = %q, want %q", tt.prompt, got, tt.want)
		}
	}
}

func TestImageFilename(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got, want := ImageFilename("a cat", 1, at), "nexus_a_cat_1_2026-01-02T03-04-05.000Z.png"; got != want {
		t.Fatalf("ImageFilename() = %q, want %q", got, want)
	}
	if got, want := ImageFilename("", -1, at), "nexus_nexus_image_2026-01-02T03-04-05.000Z.png"; got != want {
		t.Fatalf("ImageFilename() = %q, want %q", got, want)
	}
}

func TestDecodeMediaPayload(t *testing.T) {
	payload := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	data, ext, err := DecodeMediaPayload(payload)
	if err != nil {
		t.Fatalf("DecodeMediaPayload: %v", err)
	}
	if string(data) != "jpeg-bytes" || ext != "jpg" {
		t.Fatalf("got %q %q", data, ext)
	}
	if _, _, err := DecodeMediaPayload("data:image/png;base64,"); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestFetchMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp-bytes"))
	}))
	defer srv.Close()

	data, ext, err := FetchMedia(context.Background(), srv.Client(), srv.URL+"/ok.webp")
	if err != nil {
		t.Fatalf("FetchMedia: %v", err)
	}
	if string(data) != "webp-bytes" || ext != "webp" {
		t.Fatalf("got %q %q", data, ext)
	}

	if _, _, err := FetchMedia(context.Background(), srv.Client(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, _, err := FetchMedia(context.Background(), nil, "ftp://example.com/x.png"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
