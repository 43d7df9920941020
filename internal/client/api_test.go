package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"nexus/internal/entity"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestAPIClientGenerate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != generatePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"success":true,"data":{"images":["https://x/1.png"],"created":1700000000,"id":7}}`)
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/", srv.Client(), staticToken("tok"))
	resp, err := c.Generate(context.Background(), entity.GenerateImageRequest{Model: "img4", Prompt: "a fox", N: "2", Size: "1024x1024"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Images) != 1 || resp.ID != 7 || resp.Created != 1700000000 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody["n"] != float64(2) {
		t.Fatalf("n must be sent as a number, got %#v", gotBody["n"])
	}
}

func TestAPIClientReturnsServerErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"错误信封", http.StatusBadRequest, `{"success":false,"error":"Prompt is required"}`, "Prompt is required"},
		{"限流", http.StatusTooManyRequests, `{"success":false,"error":"Generation limit reached, please try again later"}`, "Generation limit reached, please try again later"},
		{"非 JSON", http.StatusBadGateway, `<html>bad gateway</html>`, "API returned status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewAPIClient(srv.URL, srv.Client(), nil).Generate(context.Background(), entity.GenerateImageRequest{Prompt: "a fox"})
			if err == nil || err.Error() != tt.message {
				t.Fatalf("expected %q, got %v", tt.message, err)
			}
			apiErr, ok := err.(*APIError)
			if !ok || apiErr.Status != tt.status {
				t.Fatalf("expected *APIError with status %d, got %#v", tt.status, err)
			}
		})
	}
}

func TestAPIClientEditMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("prompt") != "make it blue" || r.FormValue("model") != "img3" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image: %v", err)
		} else {
			defer file.Close()
			if header.Filename != "cat.png" || header.Header.Get("Content-Type") != "image/png" {
				t.Errorf("unexpected file header %v", header.Header)
			}
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"images":["https://x/e.png"],"created":1}}`)
	}))
	defer srv.Close()

	resp, err := NewAPIClient(srv.URL, srv.Client(), nil).Edit(context.Background(), entity.EditImageRequest{
		Model:       "img3",
		Prompt:      "make it blue",
		Image:       []byte("\x89PNG\r\n\x1a\n0000"),
		Filename:    "cat.png",
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if len(resp.Images) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAPIClientLoginAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			_, _ = io.WriteString(w, `{"success":true,"data":{"id":1,"username":"alice","token":"tok"}}`)
		case historyPath:
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"success":false,"error":"Not authorized to access this route"}`)
				return
			}
			_, _ = io.WriteString(w, `{"success":true,"count":1,"data":[{"id":3,"prompt":"a fox","urls":["https://x/1.png"]}]}`)
		}
	}))
	defer srv.Close()

	store := NewStore(nil)
	c := NewAPIClient(srv.URL, srv.Client(), store)

	if _, err := c.History(context.Background()); err == nil || err.Error() != "Not authorized to access this route" {
		t.Fatalf("expected auth error, got %v", err)
	}

	auth, err := c.Login(context.Background(), "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	store.SetToken(auth.Token)

	images, err := c.History(context.Background())
	if err != nil || len(images) != 1 || images[0].Prompt != "a fox" {
		t.Fatalf("History = %+v, %v", images, err)
	}
}
