// Package models ensures the Qwen-Image model files the generation
// server needs are present on the shared volume, downloading missing
// files from the HuggingFace resolve endpoint.
package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHubBaseURL = "https://huggingface.co"
	defaultVolumeDir  = "/runpod-volume/models"

	// All files live in Comfy-Org/Qwen-Image_ComfyUI under split_files/
	// and are public; a token is only needed for mirrored private repos.
	repoID = "Comfy-Org/Qwen-Image_ComfyUI"
)

// File describes one required model file and where it belongs.
type File struct {
	Filename string
	RepoPath string
	Subdir   string
}

var requiredFiles = []File{
	{
		Filename: "qwen_image_fp8_e4m3fn.safetensors",
		RepoPath: "split_files/diffusion_models/qwen_image_fp8_e4m3fn.safetensors",
		Subdir:   "diffusion_models",
	},
	{
		Filename: "qwen_2.5_vl_7b_fp8_scaled.safetensors",
		RepoPath: "split_files/text_encoders/qwen_2.5_vl_7b_fp8_scaled.safetensors",
		Subdir:   "text_encoders",
	},
	{
		Filename: "qwen_image_vae.safetensors",
		RepoPath: "split_files/vae/qwen_image_vae.safetensors",
		Subdir:   "vae",
	},
}

// Logger is the minimal logging surface the provisioner needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Provisioner.
type Options struct {
	VolumeDir  string
	HubBaseURL string
	Token      string
	HTTPClient *http.Client
	Logger     Logger
}

// Provisioner checks the volume for required model files and downloads
// what is missing.
type Provisioner struct {
	volumeDir  string
	hubBaseURL string
	token      string
	httpClient *http.Client
	logger     Logger
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func NewProvisioner(opts Options) *Provisioner {
	dir := opts.VolumeDir
	if dir == "" {
		dir = defaultVolumeDir
	}
	base := strings.TrimSuffix(opts.HubBaseURL, "/")
	if base == "" {
		base = defaultHubBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Model files run to gigabytes; rely on context for cancellation
		// rather than a client-wide timeout.
		httpClient = &http.Client{Timeout: 0}
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Provisioner{
		volumeDir:  dir,
		hubBaseURL: base,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Ensure verifies every required file exists under the volume and
// downloads any that are missing. It returns one action string per file
// ("found ..." or "downloaded ...").
func (p *Provisioner) Ensure(ctx context.Context) ([]string, error) {
	actions := make([]string, 0, len(requiredFiles))

	for _, file := range requiredFiles {
		targetDir := filepath.Join(p.volumeDir, file.Subdir)
		targetPath := filepath.Join(targetDir, file.Filename)

		if info, err := os.Stat(targetPath); err == nil {
			sizeMB := float64(info.Size()) / (1 << 20)
			p.logger.Info("model found", "path", targetPath, "size_mb", fmt.Sprintf("%.1f", sizeMB))
			actions = append(actions, fmt.Sprintf("found %s (%.0f MB)", file.Filename, sizeMB))
			continue
		}

		p.logger.Info("model missing, downloading", "path", targetPath, "repo", repoID)
		if err := p.download(ctx, file, targetDir, targetPath); err != nil {
			p.logger.Error("model download failed", "file", file.Filename, "error", err)
			return actions, fmt.Errorf("model download failed for %s from %s: %w", file.Filename, repoID, err)
		}
		actions = append(actions, fmt.Sprintf("downloaded %s", file.Filename))
	}

	return actions, nil
}

func (p *Provisioner) download(ctx context.Context, file File, targetDir, targetPath string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", targetDir, err)
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", p.hubBaseURL, repoID, file.RepoPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", file.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("download %s: HTTP %d", file.Filename, resp.StatusCode)
	}

	// Stream to a temp file first so a partial download never shadows a
	// required model on the next startup.
	tmp, err := os.CreateTemp(targetDir, file.Filename+".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	start := time.Now()
	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", file.Filename, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", file.Filename, closeErr)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move %s into place: %w", file.Filename, err)
	}

	p.logger.Info("model downloaded", "path", targetPath,
		"size_mb", fmt.Sprintf("%.1f", float64(written)/(1<<20)),
		"elapsed", time.Since(start).Round(time.Second).String())
	return nil
}
