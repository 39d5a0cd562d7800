// Command submit sends one asset-generation job to a running worker,
// polls until it resolves, and writes the resulting zip to disk.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dashyn/assetgen/pkg/queue"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "worker base URL")
	vibe := flag.String("vibe", "", "vibe name")
	desc := flag.String("desc", "", "vibe description")
	num := flag.Int("num", 2, "assets per category")
	key := flag.String("key", "", "worker API key, if required")
	out := flag.String("out", "", "output zip path (defaults to <vibe>.zip)")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	if *vibe == "" || *desc == "" {
		log.Fatal("both -vibe and -desc are required")
	}

	base := strings.TrimSuffix(*addr, "/")

	jobID, err := submit(base, *key, *vibe, *desc, *num)
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}
	log.Printf("submitted job %s", jobID)

	job, err := waitForJob(base, *key, jobID, *interval)
	if err != nil {
		log.Fatalf("poll failed: %v", err)
	}

	for _, warning := range job.Warnings {
		log.Printf("warning: %s", warning)
	}
	if job.Status == queue.StatusFailed {
		log.Fatalf("job failed: %s", job.Error)
	}
	if job.Result == nil {
		log.Fatalf("job %s completed without a result", jobID)
	}

	data, err := base64.StdEncoding.DecodeString(job.Result.ZipBase64)
	if err != nil {
		log.Fatalf("decode result: %v", err)
	}

	path := *out
	if path == "" {
		path = *vibe + ".zip"
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	log.Printf("wrote %s (%d images, %.1f MB)", path, job.Result.TotalImages, float64(len(data))/(1<<20))
}

func submit(base, key, vibe, desc string, num int) (string, error) {
	body, err := json.Marshal(map[string]any{
		"vibe_name":        vibe,
		"vibe_description": desc,
		"num_assets":       num,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, base+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func waitForJob(base, key, jobID string, interval time.Duration) (*queue.Job, error) {
	for {
		time.Sleep(interval)

		req, err := http.NewRequest(http.MethodGet, base+"/jobs/"+jobID, nil)
		if err != nil {
			return nil, err
		}
		setAuth(req, key)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("status poll failed: %v", err)
			continue
		}

		var job queue.Job
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case queue.StatusCompleted, queue.StatusFailed:
			return &job, nil
		default:
			log.Printf("job %s: %s", jobID, job.Status)
		}
	}
}

func setAuth(req *http.Request, key string) {
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}
