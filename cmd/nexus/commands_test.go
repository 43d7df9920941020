package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"nexus/internal/client"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGenerateCommandUpdatesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"images":["https://x/1.png","https://x/2.png"],"created":1}}`)
	}))
	defer srv.Close()
	stateFile := filepath.Join(t.TempDir(), "state.yaml")

	out, err := runCLI(t, "--server", srv.URL, "--state-file", stateFile, "generate", "-m", "img4", "-a", "16:9", "-n", "2", "a", "red", "fox")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Count(out, "https://x/") != 2 {
		t.Fatalf("unexpected output %q", out)
	}

	state := client.NewStore(client.NewFilePersister(stateFile)).State()
	if state.Model != "img4" || state.Size != "1792x1024" || state.NumImages != 2 || state.LastPrompt != "a red fox" {
		t.Fatalf("state not persisted: %+v", state)
	}
	if len(state.History) != 1 {
		t.Fatalf("history not saved")
	}
}

func TestGenerateCommandReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"success":false,"error":"Generation limit reached, please try again later"}`)
	}))
	defer srv.Close()

	_, err := runCLI(t, "--server", srv.URL, "--state-file", filepath.Join(t.TempDir(), "s.yaml"), "generate", "a fox")
	if err == nil || err.Error() != "Generation limit reached, please try again later" {
		t.Fatalf("expected server message, got %v", err)
	}
}

func TestPrefsAndFavoriteCommands(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")

	out, err := runCLI(t, "--state-file", stateFile, "prefs", "--auto-download=true", "--dir", "out")
	if err != nil {
		t.Fatalf("prefs: %v", err)
	}
	if !strings.Contains(out, "autoDownload: true") || !strings.Contains(out, "autoSave: true") {
		t.Fatalf("unexpected prefs output %q", out)
	}

	out, _ = runCLI(t, "--state-file", stateFile, "favorite", "img-1")
	if !strings.Contains(out, "added to") {
		t.Fatalf("unexpected favorite output %q", out)
	}
	out, _ = runCLI(t, "--state-file", stateFile, "favorite", "img-1")
	if !strings.Contains(out, "removed from") {
		t.Fatalf("unexpected favorite output %q", out)
	}

	out, err = runCLI(t, "--state-file", stateFile, "state")
	if err != nil || !strings.Contains(out, "model: img3") {
		t.Fatalf("state output %q, %v", out, err)
	}
}
