package listener

import (
	"sync"
	"time"

	"stagespy/models"
)

// DefaultRetainedStages bounds how many finished stages are kept per list
// before the oldest are dropped.
const DefaultRetainedStages = 1000

// JobMetricsListener accumulates stage and task lifecycle events into the
// live state the stages page renders from. It is mutated by the event intake
// (daemon submit handler or an in-process executor) while being read by the
// renderer; all synchronization lives here. Readers get copies and defaults,
// never the internal maps.
type JobMetricsListener struct {
	mutex sync.RWMutex

	activeStages    map[int]*models.Stage
	activeOrder     []int           // Insertion order of active stages
	completedStages []*models.Stage // Most recent first
	failedStages    []*models.Stage // Most recent first

	stageActiveTasks  map[int]map[int64]*models.TaskInfo
	stageCompleted    map[int]int
	stageFailed       map[int]int
	stageShuffleRead  map[int]uint64
	stageShuffleWrite map[int]uint64

	totalTime         time.Duration // CPU time of finished tasks, job-wide
	totalShuffleRead  uint64
	totalShuffleWrite uint64

	retainedStages int
}

// NewJobMetricsListener creates an empty listener with the default retention.
func NewJobMetricsListener() *JobMetricsListener {
	return &JobMetricsListener{
		activeStages:      make(map[int]*models.Stage),
		stageActiveTasks:  make(map[int]map[int64]*models.TaskInfo),
		stageCompleted:    make(map[int]int),
		stageFailed:       make(map[int]int),
		stageShuffleRead:  make(map[int]uint64),
		stageShuffleWrite: make(map[int]uint64),
		retainedStages:    DefaultRetainedStages,
	}
}

// OnStageSubmitted registers a newly submitted stage as active.
func (l *JobMetricsListener) OnStageSubmitted(stage *models.Stage) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	copied := *stage
	if _, exists := l.activeStages[stage.ID]; !exists {
		l.activeOrder = append(l.activeOrder, stage.ID)
	}
	l.activeStages[stage.ID] = &copied
}

// OnTaskStart records a launched task for its stage.
func (l *JobMetricsListener) OnTaskStart(task *models.TaskInfo) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	tasks, ok := l.stageActiveTasks[task.StageID]
	if !ok {
		tasks = make(map[int64]*models.TaskInfo)
		l.stageActiveTasks[task.StageID] = tasks
	}
	copied := *task
	tasks[task.ID] = &copied
}

// OnTaskEnd removes the task from the active set and accumulates its outcome
// into the stage counters and the job-wide totals.
func (l *JobMetricsListener) OnTaskEnd(task *models.TaskInfo, succeeded bool, duration time.Duration, shuffleRead, shuffleWrite uint64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if tasks, ok := l.stageActiveTasks[task.StageID]; ok {
		delete(tasks, task.ID)
	}

	if succeeded {
		l.stageCompleted[task.StageID]++
	} else {
		l.stageFailed[task.StageID]++
	}

	l.stageShuffleRead[task.StageID] += shuffleRead
	l.stageShuffleWrite[task.StageID] += shuffleWrite

	l.totalTime += duration
	l.totalShuffleRead += shuffleRead
	l.totalShuffleWrite += shuffleWrite
}

// OnStageCompleted moves an active stage to the completed or failed list.
// Unknown stage ids are ignored.
func (l *JobMetricsListener) OnStageCompleted(stage *models.Stage, failed bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	copied := *stage
	if prev, ok := l.activeStages[stage.ID]; ok {
		// Keep the submission time from the submit event if the completion
		// event arrived without one.
		if copied.Submitted == nil {
			copied.Submitted = prev.Submitted
		}
		delete(l.activeStages, stage.ID)
		for i, id := range l.activeOrder {
			if id == stage.ID {
				l.activeOrder = append(l.activeOrder[:i], l.activeOrder[i+1:]...)
				break
			}
		}
	}

	if failed {
		l.failedStages = append([]*models.Stage{&copied}, l.failedStages...)
		l.failedStages = trimStages(l.failedStages, l.retainedStages)
	} else {
		l.completedStages = append([]*models.Stage{&copied}, l.completedStages...)
		l.completedStages = trimStages(l.completedStages, l.retainedStages)
	}
}

func trimStages(stages []*models.Stage, limit int) []*models.Stage {
	if len(stages) <= limit {
		return stages
	}
	return stages[:limit]
}

// ActiveStages returns the active stages in submission order.
func (l *JobMetricsListener) ActiveStages() []*models.Stage {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	stages := make([]*models.Stage, 0, len(l.activeOrder))
	for _, id := range l.activeOrder {
		if stage, ok := l.activeStages[id]; ok {
			copied := *stage
			stages = append(stages, &copied)
		}
	}
	return stages
}

// CompletedStages returns finished stages, most recent first.
func (l *JobMetricsListener) CompletedStages() []*models.Stage {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return copyStages(l.completedStages)
}

// FailedStages returns failed stages, most recent first.
func (l *JobMetricsListener) FailedStages() []*models.Stage {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return copyStages(l.failedStages)
}

func copyStages(stages []*models.Stage) []*models.Stage {
	out := make([]*models.Stage, len(stages))
	for i, stage := range stages {
		copied := *stage
		out[i] = &copied
	}
	return out
}

// ActiveTasks returns the tasks currently running for a stage. Unknown stage
// ids yield an empty slice.
func (l *JobMetricsListener) ActiveTasks(stageID int) []*models.TaskInfo {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	tasks := l.stageActiveTasks[stageID]
	out := make([]*models.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		copied := *task
		out = append(out, &copied)
	}
	return out
}

// ActiveTasksByStage returns every running task in the job, keyed by stage id.
func (l *JobMetricsListener) ActiveTasksByStage() map[int][]*models.TaskInfo {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	out := make(map[int][]*models.TaskInfo, len(l.stageActiveTasks))
	for stageID, tasks := range l.stageActiveTasks {
		if len(tasks) == 0 {
			continue
		}
		copies := make([]*models.TaskInfo, 0, len(tasks))
		for _, task := range tasks {
			copied := *task
			copies = append(copies, &copied)
		}
		out[stageID] = copies
	}
	return out
}

// ActiveTaskCount returns how many tasks are running for a stage.
func (l *JobMetricsListener) ActiveTaskCount(stageID int) int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.stageActiveTasks[stageID])
}

// CompletedTaskCount returns finished successful tasks for a stage, 0 if the
// stage has none recorded.
func (l *JobMetricsListener) CompletedTaskCount(stageID int) int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stageCompleted[stageID]
}

// FailedTaskCount returns failed tasks for a stage, 0 if none recorded.
func (l *JobMetricsListener) FailedTaskCount(stageID int) int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stageFailed[stageID]
}

// ShuffleReadBytes returns cumulative shuffle bytes read by a stage's tasks.
func (l *JobMetricsListener) ShuffleReadBytes(stageID int) uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stageShuffleRead[stageID]
}

// ShuffleWriteBytes returns cumulative shuffle bytes written by a stage's tasks.
func (l *JobMetricsListener) ShuffleWriteBytes(stageID int) uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stageShuffleWrite[stageID]
}

// TotalCPUTime returns the accumulated run time of all finished tasks. Time
// spent by still-running tasks is not included; the page adds that on top at
// render time.
func (l *JobMetricsListener) TotalCPUTime() time.Duration {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.totalTime
}

// TotalShuffleReadBytes returns job-wide shuffle bytes read.
func (l *JobMetricsListener) TotalShuffleReadBytes() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.totalShuffleRead
}

// TotalShuffleWriteBytes returns job-wide shuffle bytes written.
func (l *JobMetricsListener) TotalShuffleWriteBytes() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.totalShuffleWrite
}

// Summary returns a point-in-time snapshot of a stage's counters, used when
// freezing a finished stage for persistence.
func (l *JobMetricsListener) Summary(stage *models.Stage, status string) *models.StageSummary {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return &models.StageSummary{
		JobRunID:          stage.JobRunID,
		StageID:           stage.ID,
		Name:              stage.Name,
		NumPartitions:     stage.NumPartitions,
		Status:            status,
		Submitted:         stage.Submitted,
		Completed:         stage.Completed,
		CompletedTasks:    l.stageCompleted[stage.ID],
		FailedTasks:       l.stageFailed[stage.ID],
		ShuffleReadBytes:  l.stageShuffleRead[stage.ID],
		ShuffleWriteBytes: l.stageShuffleWrite[stage.ID],
		Dataset:           stage.Dataset,
	}
}

// Apply folds one wire event into the listener. Events with missing payloads
// for their type are ignored.
func (l *JobMetricsListener) Apply(event *models.StageEvent) {
	switch event.Type {
	case models.EventStageSubmitted:
		if event.Stage != nil {
			l.OnStageSubmitted(event.Stage)
		}
	case models.EventTaskStart:
		if event.Task != nil {
			l.OnTaskStart(event.Task)
		}
	case models.EventTaskEnd:
		if event.Task != nil {
			l.OnTaskEnd(event.Task, event.Succeeded, event.TaskDuration, event.ShuffleReadBytes, event.ShuffleWriteBytes)
		}
	case models.EventStageCompleted:
		if event.Stage != nil {
			l.OnStageCompleted(event.Stage, event.StageFailed)
		}
	}
}
