package executor

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"stagespy/models"
)

// maxTaskAttempts bounds retries of a failing partition before the whole
// stage is declared failed.
const maxTaskAttempts = 3

// EventHandler receives every lifecycle event the executor emits.
type EventHandler func(event *models.StageEvent)

// Options tune an executor run.
type Options struct {
	Parallelism int     // Concurrent tasks; defaults to 4
	TimeScale   float64 // Multiplier on template task durations; defaults to 1
	Heartbeat   bool    // Emit executor_heartbeat events with gopsutil samples
}

// Executor runs a workload's stages locally, one task per partition on a
// bounded worker pool, and reports everything through the event handler. It
// produces events only; folding them into live state is the listener's job.
type Executor struct {
	run      *models.JobRun
	workload Workload
	handler  EventHandler
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	nextTaskID  atomic.Int64
	activeTasks atomic.Int64
}

// New creates an executor for one job run.
func New(run *models.JobRun, workload Workload, opts Options, handler EventHandler) *Executor {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.TimeScale <= 0 {
		opts.TimeScale = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		run:      run,
		workload: workload,
		handler:  handler,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop aborts a running executor.
func (e *Executor) Stop() {
	e.cancel()
}

// Run executes the workload's stages in order and returns whether the job
// failed. Stages run sequentially; tasks within a stage run on the pool.
func (e *Executor) Run() bool {
	if e.opts.Heartbeat {
		go e.heartbeatLoop()
	}
	defer e.cancel()

	for stageID, tmpl := range e.workload.Stages {
		if e.ctx.Err() != nil {
			return true
		}
		if failed := e.runStage(stageID, tmpl); failed {
			return true
		}
	}
	return false
}

func (e *Executor) runStage(stageID int, tmpl StageTemplate) bool {
	now := time.Now()
	stage := &models.Stage{
		ID:            stageID,
		JobRunID:      e.run.ID,
		Name:          tmpl.Name,
		NumPartitions: tmpl.NumPartitions,
		Submitted:     &now,
	}
	if tmpl.CacheOutput {
		stage.Dataset = &models.DatasetRef{
			ID:           uuid.New().String(),
			Name:         tmpl.DatasetName,
			StorageLevel: tmpl.StorageLevel,
		}
	}

	submitted := models.NewStageEvent(e.run.ID, models.EventStageSubmitted)
	submitted.Stage = stage
	e.handler(submitted)

	var wg sync.WaitGroup
	pool := make(chan struct{}, e.opts.Parallelism)
	var stageFailed atomic.Bool

	for partition := 0; partition < tmpl.NumPartitions; partition++ {
		if e.ctx.Err() != nil {
			stageFailed.Store(true)
			break
		}
		pool <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-pool }()
			if !e.runPartition(stage, tmpl) {
				stageFailed.Store(true)
			}
		}()
	}
	wg.Wait()

	done := time.Now()
	finished := *stage
	finished.Completed = &done

	completed := models.NewStageEvent(e.run.ID, models.EventStageCompleted)
	completed.Stage = &finished
	completed.StageFailed = stageFailed.Load()
	e.handler(completed)

	return stageFailed.Load()
}

// runPartition runs one partition to completion, retrying failed attempts.
// Returns false when the partition exhausts its attempts.
func (e *Executor) runPartition(stage *models.Stage, tmpl StageTemplate) bool {
	for attempt := 0; attempt < maxTaskAttempts; attempt++ {
		if e.ctx.Err() != nil {
			return false
		}

		task := &models.TaskInfo{
			ID:       e.nextTaskID.Add(1),
			StageID:  stage.ID,
			Launched: time.Now(),
		}

		start := models.NewStageEvent(e.run.ID, models.EventTaskStart)
		start.Task = task
		e.handler(start)
		e.activeTasks.Add(1)

		d := e.taskDuration(tmpl)
		select {
		case <-e.ctx.Done():
		case <-time.After(d):
		}
		succeeded := e.ctx.Err() == nil && rand.Float64() >= tmpl.FailureRate

		end := models.NewStageEvent(e.run.ID, models.EventTaskEnd)
		end.Task = task
		end.Succeeded = succeeded
		end.TaskDuration = time.Since(task.Launched)
		if succeeded {
			end.ShuffleReadBytes = tmpl.ShuffleRead
			end.ShuffleWriteBytes = tmpl.ShuffleWrite
		}
		e.activeTasks.Add(-1)
		e.handler(end)

		if succeeded {
			return true
		}
	}
	return false
}

// taskDuration jitters the template duration by ±25% and applies the scale.
func (e *Executor) taskDuration(tmpl StageTemplate) time.Duration {
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(tmpl.TaskDuration) * jitter * e.opts.TimeScale)
}

// heartbeatLoop samples this process's resource usage once a second and
// reports it until the run finishes.
func (e *Executor) heartbeatLoop() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			hb := &models.ExecutorHeartbeat{
				PID:         proc.Pid,
				ActiveTasks: int(e.activeTasks.Load()),
			}
			if cpu, err := proc.CPUPercent(); err == nil {
				hb.CPUPercent = cpu
			}
			if mem, err := proc.MemoryInfo(); err == nil {
				hb.MemRSS = mem.RSS
			}

			event := models.NewStageEvent(e.run.ID, models.EventExecutorHeartbeat)
			event.Heartbeat = hb
			e.handler(event)
		}
	}
}
