package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage statuses as reported over the wire and persisted in summaries.
const (
	StageStatusActive    = "active"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
)

// JobRun statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// DatasetRef identifies the dataset a stage produces. Cached datasets are
// registered with the daemon and linked from the stages page.
type DatasetRef struct {
	ID           string `json:"id"`                      // UUID for the dataset
	Name         string `json:"name,omitempty"`          // Optional human-readable name
	StorageLevel string `json:"storage_level,omitempty"` // e.g. "MEMORY", "DISK"; empty if not cached
}

// Cached reports whether the dataset has a storage level assigned.
func (d *DatasetRef) Cached() bool {
	return d != nil && d.StorageLevel != ""
}

// Stage is one unit of a job's execution plan, split into NumPartitions tasks.
// Submission and completion times are nil until the corresponding event has
// been observed.
type Stage struct {
	ID            int         `json:"id"`
	JobRunID      string      `json:"job_run_id"`
	Name          string      `json:"name"`
	NumPartitions int         `json:"num_partitions"`
	Submitted     *time.Time  `json:"submitted,omitempty"`
	Completed     *time.Time  `json:"completed,omitempty"`
	Dataset       *DatasetRef `json:"dataset,omitempty"`
}

// TaskInfo describes one running task of a stage.
type TaskInfo struct {
	ID       int64     `json:"id"`
	StageID  int       `json:"stage_id"`
	Launched time.Time `json:"launched"`
}

// Elapsed returns how long the task has been running as of now.
func (t *TaskInfo) Elapsed(now time.Time) time.Duration {
	d := now.Sub(t.Launched)
	if d < 0 {
		return 0
	}
	return d
}

// JobRun represents one submitted job execution.
type JobRun struct {
	ID        string     `json:"id"` // UUID for the run
	Name      string     `json:"name"`
	Workload  string     `json:"workload"` // Workload profile that produced the run
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"` // nil while running
	Status    string     `json:"status"`
	Duration  *int64     `json:"duration,omitempty"` // Milliseconds, nil while running
}

// NewJobRun creates a running job run with a generated UUID.
func NewJobRun(name, workload string) *JobRun {
	return &JobRun{
		ID:        uuid.New().String(),
		Name:      name,
		Workload:  workload,
		StartTime: time.Now(),
		Status:    RunStatusRunning,
	}
}

// Complete marks the run finished. failed selects the terminal status.
func (jr *JobRun) Complete(failed bool) {
	now := time.Now()
	jr.EndTime = &now
	if failed {
		jr.Status = RunStatusFailed
	} else {
		jr.Status = RunStatusSucceeded
	}
	duration := now.Sub(jr.StartTime).Milliseconds()
	jr.Duration = &duration
}

// StageEvent types.
const (
	EventStageSubmitted    = "stage_submitted"
	EventTaskStart         = "task_start"
	EventTaskEnd           = "task_end"
	EventStageCompleted    = "stage_completed"
	EventExecutorHeartbeat = "executor_heartbeat"
)

// StageEvent is the wire format executors report lifecycle changes with. The
// fields that apply depend on Type; the rest stay at their zero values.
type StageEvent struct {
	ID        string    `json:"id"` // UUID for the event
	JobRunID  string    `json:"job_run_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	Stage *Stage    `json:"stage,omitempty"` // stage_submitted, stage_completed
	Task  *TaskInfo `json:"task,omitempty"`  // task_start, task_end

	// task_end only.
	Succeeded         bool          `json:"succeeded,omitempty"`
	TaskDuration      time.Duration `json:"task_duration,omitempty"`
	ShuffleReadBytes  uint64        `json:"shuffle_read_bytes,omitempty"`
	ShuffleWriteBytes uint64        `json:"shuffle_write_bytes,omitempty"`

	// stage_completed only.
	StageFailed bool `json:"stage_failed,omitempty"`

	// executor_heartbeat only.
	Heartbeat *ExecutorHeartbeat `json:"heartbeat,omitempty"`
}

// ExecutorHeartbeat carries resource usage sampled from the executor process.
type ExecutorHeartbeat struct {
	PID         int32   `json:"pid"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemRSS      uint64  `json:"mem_rss"`
	ActiveTasks int     `json:"active_tasks"`
}

// NewStageEvent creates an event with a generated UUID and current timestamp.
func NewStageEvent(jobRunID, eventType string) *StageEvent {
	return &StageEvent{
		ID:        uuid.New().String(),
		JobRunID:  jobRunID,
		Timestamp: time.Now(),
		Type:      eventType,
	}
}

// StageSummary is the frozen, persisted form of a finished stage's metrics.
type StageSummary struct {
	JobRunID          string      `json:"job_run_id"`
	StageID           int         `json:"stage_id"`
	Name              string      `json:"name"`
	NumPartitions     int         `json:"num_partitions"`
	Status            string      `json:"status"`
	Submitted         *time.Time  `json:"submitted,omitempty"`
	Completed         *time.Time  `json:"completed,omitempty"`
	CompletedTasks    int         `json:"completed_tasks"`
	FailedTasks       int         `json:"failed_tasks"`
	ShuffleReadBytes  uint64      `json:"shuffle_read_bytes"`
	ShuffleWriteBytes uint64      `json:"shuffle_write_bytes"`
	Dataset           *DatasetRef `json:"dataset,omitempty"`
}

// Database key constants for BadgerDB storage
const (
	KeyPrefixJobRun       = "jobrun:"
	KeyPrefixStageSummary = "stagesum:"
	KeyPrefixDataset      = "dataset:"
	KeyPrefixRunStages    = "runstages:" // Index: job_run_id -> list of stage summary keys
)

func (jr *JobRun) Key() string {
	return KeyPrefixJobRun + jr.ID
}

func (ss *StageSummary) Key() string {
	return fmt.Sprintf("%s%s:%d", KeyPrefixStageSummary, ss.JobRunID, ss.StageID)
}

func (d *DatasetRef) Key() string {
	return KeyPrefixDataset + d.ID
}

// RunStagesKey returns the index key listing a run's stage summaries.
func RunStagesKey(jobRunID string) string {
	return KeyPrefixRunStages + jobRunID
}
