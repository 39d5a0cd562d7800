package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Result is the deliverable of a completed job: a base64-encoded zip of
// the generated assets.
type Result struct {
	ZipBase64   string `json:"zip_base64"`
	VibeName    string `json:"vibe_name"`
	TotalImages int    `json:"total_images"`
}

// Job is one asset-generation request moving through the queue.
type Job struct {
	ID              string    `json:"id"`
	VibeName        string    `json:"vibe_name"`
	VibeDescription string    `json:"vibe_description"`
	NumAssets       int       `json:"num_assets"`
	Status          JobStatus `json:"status"`
	WorkerID        string    `json:"worker_id,omitempty"`
	CreatedAt       int64     `json:"created_at"`
	StartedAt       int64     `json:"started_at,omitempty"`
	CompletedAt     int64     `json:"completed_at,omitempty"`
	Result          *Result   `json:"result,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// ErrNotFound is returned when a job id has expired or never existed.
var ErrNotFound = errors.New("job not found")

const (
	queueKey = "queue:assetgen"
	jobTTL   = 24 * time.Hour
)

// Queue is a redis-backed job store plus a single FIFO work list.
type Queue struct {
	redis *redis.Client
}

func New(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{redis: client}, nil
}

func jobKey(id string) string { return "job:" + id }

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.CreatedAt = time.Now().Unix()
	job.Status = StatusPending

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return err
	}

	return q.redis.RPush(ctx, queueKey, job.ID).Err()
}

// Dequeue blocks up to five seconds for the next pending job and marks it
// processing. A nil job with a nil error means the queue was empty.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	result, err := q.redis.BLPop(ctx, 5*time.Second, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job, err := q.load(ctx, result[1])
	if err != nil {
		return nil, err
	}

	job.Status = StatusProcessing
	job.WorkerID = workerID
	job.StartedAt = time.Now().Unix()
	if err := q.store(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

func (q *Queue) Complete(ctx context.Context, jobID string, result *Result, warnings []string) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = StatusCompleted
	job.CompletedAt = time.Now().Unix()
	job.Result = result
	job.Warnings = warnings

	return q.store(ctx, job)
}

func (q *Queue) Fail(ctx context.Context, jobID string, errMsg string, warnings []string) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = StatusFailed
	job.CompletedAt = time.Now().Unix()
	job.Error = errMsg
	job.Warnings = warnings

	return q.store(ctx, job)
}

func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	return q.load(ctx, jobID)
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, queueKey).Result()
}

func (q *Queue) Close() error {
	return q.redis.Close()
}

func (q *Queue) load(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *Queue) store(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}
