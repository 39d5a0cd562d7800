package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureDownloadsMissing(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if !strings.HasPrefix(r.URL.Path, "/Comfy-Org/Qwen-Image_ComfyUI/resolve/main/split_files/") {
			t.Fatalf("unexpected download path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer ts.Close()

	dir := t.TempDir()
	p := NewProvisioner(Options{VolumeDir: dir, HubBaseURL: ts.URL})

	actions, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %v", actions)
	}
	for _, action := range actions {
		if !strings.HasPrefix(action, "downloaded ") {
			t.Fatalf("expected download action, got %q", action)
		}
	}
	if requests != 3 {
		t.Fatalf("expected 3 downloads, got %d", requests)
	}

	data, err := os.ReadFile(filepath.Join(dir, "vae", "qwen_image_vae.safetensors"))
	if err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if string(data) != "weights" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

func TestEnsureFindsExisting(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no download expected, got %s", r.URL.Path)
	}))
	defer ts.Close()

	dir := t.TempDir()
	for _, file := range requiredFiles {
		sub := filepath.Join(dir, file.Subdir)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(sub, file.Filename), []byte("cached"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	p := NewProvisioner(Options{VolumeDir: dir, HubBaseURL: ts.URL})
	actions, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	for _, action := range actions {
		if !strings.HasPrefix(action, "found ") {
			t.Fatalf("expected found action, got %q", action)
		}
	}
}

func TestEnsureDownloadFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer ts.Close()

	p := NewProvisioner(Options{VolumeDir: t.TempDir(), HubBaseURL: ts.URL})
	if _, err := p.Ensure(context.Background()); err == nil {
		t.Fatalf("expected error when hub rejects download")
	}
}

func TestDownloadSendsToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer hf_test" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer ts.Close()

	p := NewProvisioner(Options{VolumeDir: t.TempDir(), HubBaseURL: ts.URL, Token: "hf_test"})
	if _, err := p.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
}
