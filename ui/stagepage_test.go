package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagespy/listener"
	"stagespy/models"
)

func TestMakeProgressBar(t *testing.T) {
	bar := MakeProgressBar(2, 1, 4)
	assert.Equal(t, 50.0, bar.StartedPercent)
	assert.Equal(t, 25.0, bar.CompletedPercent)

	bar = MakeProgressBar(0, 0, 4)
	assert.Equal(t, 0.0, bar.StartedPercent)
	assert.Equal(t, 0.0, bar.CompletedPercent)
}

func TestMakeProgressBarZeroTotal(t *testing.T) {
	// A stage with zero partitions must not divide by zero.
	bar := MakeProgressBar(3, 2, 0)
	assert.Equal(t, 0.0, bar.StartedPercent)
	assert.Equal(t, 0.0, bar.CompletedPercent)
}

func TestMakeProgressBarUnclamped(t *testing.T) {
	// Speculative re-execution can push counts past the declared total; the
	// widths exceed 100% rather than being normalized.
	bar := MakeProgressBar(6, 5, 4)
	assert.Equal(t, 150.0, bar.StartedPercent)
	assert.Equal(t, 125.0, bar.CompletedPercent)
}

func TestTaskLabel(t *testing.T) {
	assert.Equal(t, "3 / 5", TaskLabel(3, 5, 0))
	assert.Equal(t, "3 / 5(2 failed)", TaskLabel(3, 5, 2))
	assert.Equal(t, "0 / 0", TaskLabel(0, 0, 0))
}

// fixedPage builds a renderer over l whose clock always reads now.
func fixedPage(l *listener.JobMetricsListener, now time.Time) *StagePage {
	p := NewStagePage(l)
	p.now = func() time.Time { return now }
	return p
}

func TestRenderEmptyListener(t *testing.T) {
	l := listener.NewJobMetricsListener()
	page, err := fixedPage(l, time.Now()).Render(nil)
	require.NoError(t, err)

	html := string(page)
	// All three headings render even with nothing to show.
	assert.Contains(t, html, "Active Stages")
	assert.Contains(t, html, "Completed Stages")
	assert.Contains(t, html, "Failed Stages")
	// Three header rows, zero body rows.
	assert.Equal(t, 3, strings.Count(html, "<tr>"))
	assert.Equal(t, 3, strings.Count(html, "Stage Id"))
}

func TestRenderRowCountMatchesInput(t *testing.T) {
	l := listener.NewJobMetricsListener()
	now := time.Now()
	for i := 0; i < 3; i++ {
		l.OnStageSubmitted(&models.Stage{ID: i, Name: "stage", NumPartitions: 2, Submitted: &now})
	}

	p := fixedPage(l, now)
	rows := p.stageRows(l.ActiveStages())
	assert.Len(t, rows, 3)
	assert.Empty(t, p.stageRows(l.CompletedStages()))
}

func TestStageRowDefaultsForUnknownMetrics(t *testing.T) {
	// A stage the listener has no metrics for renders as "no activity yet".
	l := listener.NewJobMetricsListener()
	p := fixedPage(l, time.Now())

	row := p.stageRow(&models.Stage{ID: 7, Name: "orphan", NumPartitions: 4})
	assert.Equal(t, "Unknown", row.Submitted)
	assert.Equal(t, "Unknown", row.Duration)
	assert.Equal(t, "0 / 4", row.Tasks)
	assert.Equal(t, "", row.ShuffleRead)
	assert.Equal(t, "", row.ShuffleWrite)
	assert.Equal(t, 0.0, row.Progress.StartedPercent)
}

// endToEndListener reproduces one active and one completed stage:
// stage 1: 4 partitions, 2 tasks active, 1 completed, shuffle write 2048
// stage 0: 4 partitions, 4 completed, submitted and completed set
func endToEndListener(base time.Time) (*listener.JobMetricsListener, time.Time) {
	l := listener.NewJobMetricsListener()

	submitted0 := base
	completed0 := base.Add(4 * time.Second)
	stage0 := &models.Stage{ID: 0, Name: "map at job.go:10", NumPartitions: 4, Submitted: &submitted0}
	l.OnStageSubmitted(stage0)
	for i := int64(0); i < 4; i++ {
		task := &models.TaskInfo{ID: i, StageID: 0, Launched: base}
		l.OnTaskStart(task)
		l.OnTaskEnd(task, true, time.Second, 0, 0)
	}
	done0 := *stage0
	done0.Completed = &completed0
	l.OnStageCompleted(&done0, false)

	submitted1 := base.Add(5 * time.Second)
	stage1 := &models.Stage{ID: 1, Name: "reduce at job.go:12", NumPartitions: 4, Submitted: &submitted1}
	l.OnStageSubmitted(stage1)
	for i := int64(10); i < 13; i++ {
		l.OnTaskStart(&models.TaskInfo{ID: i, StageID: 1, Launched: submitted1})
	}
	finished := &models.TaskInfo{ID: 12, StageID: 1, Launched: submitted1}
	l.OnTaskEnd(finished, true, time.Second, 0, 2048)

	return l, base.Add(7 * time.Second)
}

func TestRenderEndToEnd(t *testing.T) {
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	l, now := endToEndListener(base)
	p := fixedPage(l, now)

	active := p.stageRows(l.ActiveStages())
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].ID)
	assert.Equal(t, "1 / 4", active[0].Tasks)
	assert.Equal(t, "", active[0].ShuffleRead)
	assert.Equal(t, "2.0 KiB", active[0].ShuffleWrite)
	assert.Equal(t, 50.0, active[0].Progress.StartedPercent)
	assert.Equal(t, 25.0, active[0].Progress.CompletedPercent)

	completed := p.stageRows(l.CompletedStages())
	require.Len(t, completed, 1)
	assert.Equal(t, 0, completed[0].ID)
	assert.Equal(t, "4 / 4", completed[0].Tasks)
	assert.NotEqual(t, "Unknown", completed[0].Submitted)
	assert.Equal(t, "4.0 s", completed[0].Duration)

	page, err := p.Render(nil)
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, "1 / 4")
	assert.Contains(t, html, "4 / 4")
	assert.Contains(t, html, "2.0 KiB")
}

func TestCompletedStageDurationFixedAcrossRenders(t *testing.T) {
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	l, now := endToEndListener(base)

	first := fixedPage(l, now).stageRows(l.CompletedStages())[0].Duration
	later := fixedPage(l, now.Add(time.Minute)).stageRows(l.CompletedStages())[0].Duration
	assert.Equal(t, first, later)
}

func TestActiveStageDurationAdvances(t *testing.T) {
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	l, now := endToEndListener(base)

	first := fixedPage(l, now).stageRows(l.ActiveStages())[0].Duration
	later := fixedPage(l, now.Add(3*time.Second)).stageRows(l.ActiveStages())[0].Duration
	assert.Equal(t, "2.0 s", first)
	assert.Equal(t, "5.0 s", later)
}

func TestJobSummaryCPUTimeIncludesRunningTasks(t *testing.T) {
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	l := listener.NewJobMetricsListener()

	// 1000ms of finished work plus one task started 500ms before "now".
	done := &models.TaskInfo{ID: 1, StageID: 0, Launched: base}
	l.OnTaskStart(done)
	l.OnTaskEnd(done, true, time.Second, 0, 0)
	l.OnTaskStart(&models.TaskInfo{ID: 2, StageID: 0, Launched: base})

	now := base.Add(500 * time.Millisecond)
	assert.Equal(t, "1.5 s", fixedPage(l, now).jobSummary().CPUTime)

	// Re-rendering later yields a strictly larger figure.
	assert.Equal(t, "1.6 s", fixedPage(l, now.Add(100*time.Millisecond)).jobSummary().CPUTime)
}

func TestJobSummarySuppressesZeroShuffleTotals(t *testing.T) {
	l := listener.NewJobMetricsListener()
	summary := fixedPage(l, time.Now()).jobSummary()
	assert.Equal(t, "", summary.ShuffleRead)
	assert.Equal(t, "", summary.ShuffleWrite)

	task := &models.TaskInfo{ID: 1, StageID: 0, Launched: time.Now()}
	l.OnTaskStart(task)
	l.OnTaskEnd(task, true, time.Second, 1024, 0)

	summary = fixedPage(l, time.Now()).jobSummary()
	assert.Equal(t, "1.0 KiB", summary.ShuffleRead)
	assert.Equal(t, "", summary.ShuffleWrite)
}
