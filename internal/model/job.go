package model

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a scraping job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobOptions are the optional knobs of a scraping job.
type JobOptions struct {
	Keywords   string `json:"keywords,omitempty"`
	City       string `json:"city,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	CustomURL  string `json:"custom_url,omitempty"`
}

// ScrapingJob is one invocation of the scrape runner. A retry is a new job.
type ScrapingJob struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	Region       string     `json:"region"`
	ActivityType string     `json:"activity_type"`
	Status       JobStatus  `json:"status"`
	Options      JobOptions `json:"options"`
	TotalFound   int        `json:"total_found"`
	SuccessCount int        `json:"success_count"`
	ErrorCount   int        `json:"error_count"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Error        string     `json:"error,omitempty"`
}

// TaskStatus represents the state of a queued unit of background work.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task kinds.
const (
	TaskScrapeRun       = "scrape.run"
	TaskCampaignDeliver = "campaign.deliver"
	TaskEnrichBatch     = "enrich.batch"
)

// Task is a persisted unit of background work claimed by a worker.
type Task struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      TaskStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAfter    time.Time       `json:"run_after"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CanRetry reports whether another attempt is allowed.
func (t Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}
