package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dashyn/assetgen/pkg/workflow"
)

const (
	defaultBaseURL = "http://127.0.0.1:8188"

	healthTimeout = 5 * time.Second
	submitTimeout = 30 * time.Second
	pollTimeout   = 10 * time.Second
	fetchTimeout  = 30 * time.Second

	defaultPollInterval = time.Second
)

// Logger is the minimal logging surface the client needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Options configures a Client. The zero value targets a local server with
// default timing.
type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       Logger
}

// Client talks to a ComfyUI server: submit a workflow, poll its history
// entry until an artifact or an error appears, fetch the artifact bytes.
// A Client is safe for concurrent use; each in-flight workflow owns its
// own handle and deadline.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	clock        clock.Clock
	logger       Logger
}

// NewClient creates a client with sane defaults for unset options.
func NewClient(opts Options) *Client {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{
		baseURL:      base,
		httpClient:   httpClient,
		pollInterval: interval,
		clock:        clk,
		logger:       logger,
	}
}

// ArtifactLocation identifies one generated image on the server: the
// three fields /view needs to serve its bytes.
type ArtifactLocation struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Kind      string `json:"type"`
}

// Artifact is a fetched image: raw bytes plus the declared filename.
type Artifact struct {
	Filename string
	Data     []byte
}

// CheckReady probes /system_stats with a short timeout. It reports false
// on any network error or non-success status and never returns an error.
func (c *Client) CheckReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

type submitRequest struct {
	Prompt   *workflow.Graph `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit sends a workflow to /prompt under a fresh client session id and
// returns the server-assigned handle. The server begins asynchronous work
// on success.
func (c *Client) Submit(ctx context.Context, graph *workflow.Graph) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: graph, ClientID: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("marshal workflow: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit workflow: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return "", &SubmissionError{Status: resp.StatusCode, Reason: strings.TrimSpace(string(payload))}
	}

	var out submitResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &SubmissionError{Status: resp.StatusCode, Reason: fmt.Sprintf("undecodable response: %s", strings.TrimSpace(string(payload)))}
	}
	if out.PromptID == "" {
		return "", &SubmissionError{Status: resp.StatusCode, Reason: fmt.Sprintf("no prompt_id in response: %s", strings.TrimSpace(string(payload)))}
	}

	c.logger.Info("submitted workflow", "handle", out.PromptID)
	return out.PromptID, nil
}

// AwaitArtifact polls the history entry for handle until an artifact
// location or a terminal error appears, or timeout elapses. Transient
// network failures and non-success poll statuses are logged and retried;
// they never reset the deadline. Terminal conditions surface as
// *ExecutionError, *EmptyOutputError or *TimeoutError and are never
// retried here.
func (c *Client) AwaitArtifact(ctx context.Context, handle string, timeout time.Duration) (ArtifactLocation, error) {
	start := c.clock.Now()

	for {
		if elapsed := c.clock.Since(start); elapsed >= timeout {
			return ArtifactLocation{}, &TimeoutError{Handle: handle, Elapsed: elapsed}
		}

		// The server needs a beat to register the job; never poll
		// immediately after submission.
		select {
		case <-ctx.Done():
			return ArtifactLocation{}, ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}

		res, err := c.pollOnce(ctx, handle)
		if err != nil {
			c.logger.Warn("history poll failed", "handle", handle, "error", err)
			continue
		}

		switch res.state {
		case pollReady:
			c.logger.Info("workflow complete", "handle", handle, "filename", res.location.Filename)
			return res.location, nil
		case pollFailed:
			return ArtifactLocation{}, res.err
		}
	}
}

type pollState int

const (
	pollPending pollState = iota
	pollReady
	pollFailed
)

// pollResult is the tagged outcome of a single poll attempt. err is set
// only when state is pollFailed and is always terminal.
type pollResult struct {
	state    pollState
	location ArtifactLocation
	err      error
}

type historyEntry struct {
	Status struct {
		StatusStr string            `json:"status_str"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []ArtifactLocation `json:"images"`
	} `json:"outputs"`
}

// pollOnce issues one status query. A returned error is transient: the
// caller keeps polling. Terminal classifications travel inside the
// pollResult.
func (c *Client) pollOnce(ctx context.Context, handle string) (pollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+handle, nil)
	if err != nil {
		return pollResult{}, fmt.Errorf("create history request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pollResult{}, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return pollResult{}, fmt.Errorf("history returned %d", resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return pollResult{}, fmt.Errorf("decode history: %w", err)
	}

	entry, ok := history[handle]
	if !ok {
		// Not indexed yet.
		return pollResult{state: pollPending}, nil
	}

	return classifyEntry(handle, entry), nil
}

// classifyEntry maps one history entry onto the tagged poll outcome:
// server-reported error beats everything, then the first image reference
// found wins, then a non-empty image-less output set means the job
// finished producing nothing.
func classifyEntry(handle string, entry historyEntry) pollResult {
	if entry.Status.StatusStr == "error" {
		return pollResult{state: pollFailed, err: &ExecutionError{
			Handle:   handle,
			Messages: renderMessages(entry.Status.Messages),
		}}
	}

	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, id := range nodeIDs {
		if images := entry.Outputs[id].Images; len(images) > 0 {
			return pollResult{state: pollReady, location: images[0]}
		}
	}

	if len(entry.Outputs) > 0 {
		return pollResult{state: pollFailed, err: &EmptyOutputError{Handle: handle}}
	}

	return pollResult{state: pollPending}
}

// renderMessages flattens the server's message list to strings, unquoting
// plain JSON strings and passing anything else through verbatim.
func renderMessages(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, msg := range raw {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(msg))
	}
	return out
}

// Fetch downloads one artifact from /view.
func (c *Client) Fetch(ctx context.Context, loc ArtifactLocation) (Artifact, error) {
	query := url.Values{}
	query.Set("filename", loc.Filename)
	query.Set("subfolder", loc.Subfolder)
	query.Set("type", loc.Kind)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("create view request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("fetch %s: %w", loc.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Artifact{}, &FetchError{Status: resp.StatusCode, Filename: loc.Filename}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Artifact{}, fmt.Errorf("read %s: %w", loc.Filename, err)
	}

	return Artifact{Filename: loc.Filename, Data: data}, nil
}

// Run submits a workflow and blocks until its artifact is fetched or a
// terminal condition surfaces: Submit, AwaitArtifact, Fetch in sequence.
func (c *Client) Run(ctx context.Context, graph *workflow.Graph, timeout time.Duration) (Artifact, error) {
	handle, err := c.Submit(ctx, graph)
	if err != nil {
		return Artifact{}, err
	}

	loc, err := c.AwaitArtifact(ctx, handle, timeout)
	if err != nil {
		return Artifact{}, err
	}

	return c.Fetch(ctx, loc)
}
