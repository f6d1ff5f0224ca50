package ui

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"stagespy/listener"
	"stagespy/models"
)

// ProgressBar holds the two overlapping segment widths of a stage's progress
// track, as percentages of the declared partition total. Widths are not
// clamped: speculative re-execution can push task counts past the total, and
// the bar simply exceeds 100% rather than hiding it.
type ProgressBar struct {
	StartedPercent   float64
	CompletedPercent float64
}

// MakeProgressBar computes segment widths from raw counts. A zero partition
// total is a legal degenerate stage and yields an empty bar instead of a
// division fault.
func MakeProgressBar(started, completed, total int) ProgressBar {
	if total <= 0 {
		return ProgressBar{}
	}
	return ProgressBar{
		StartedPercent:   float64(started) / float64(total) * 100,
		CompletedPercent: float64(completed) / float64(total) * 100,
	}
}

// TaskLabel renders "{completed} / {total}", appending "(N failed)" only when
// there are failures to report.
func TaskLabel(completed, total, failed int) string {
	label := fmt.Sprintf("%d / %d", completed, total)
	if failed > 0 {
		label += fmt.Sprintf("(%d failed)", failed)
	}
	return label
}

// StageRow is one rendered table row. Rows are built fresh per request and
// never outlive the response.
type StageRow struct {
	ID           int
	Origin       string
	Submitted    string
	Duration     string
	Progress     ProgressBar
	Tasks        string
	ShuffleRead  string
	ShuffleWrite string
	Dataset      *models.DatasetRef
}

// StageTable pairs a heading with its rows; empty tables still render their
// heading and header row.
type StageTable struct {
	Title string
	Rows  []StageRow
}

// JobSummary is the job-wide block at the top of the page. Shuffle strings
// are empty when the corresponding total is zero, which drops the line.
type JobSummary struct {
	CPUTime      string
	ShuffleRead  string
	ShuffleWrite string
}

type pageView struct {
	Summary JobSummary
	Tables  []StageTable
}

// StagePage renders the point-in-time stages view from a live listener. The
// listener is mutated concurrently by the event intake; every read here is a
// best-effort snapshot and two related counters may be observed a moment
// apart. That can only make a bar momentarily inconsistent, never crash the
// render.
type StagePage struct {
	listener *listener.JobMetricsListener

	// now is the clock used for in-flight durations; replaceable in tests.
	now func() time.Time
}

// NewStagePage creates a renderer over the given listener.
func NewStagePage(l *listener.JobMetricsListener) *StagePage {
	return &StagePage{listener: l, now: time.Now}
}

// Render produces the complete page fragment. The request is accepted for
// handler symmetry; no query parameters are consumed.
func (p *StagePage) Render(_ *http.Request) ([]byte, error) {
	view := pageView{
		Summary: p.jobSummary(),
		Tables: []StageTable{
			{Title: "Active Stages", Rows: p.stageRows(p.listener.ActiveStages())},
			{Title: "Completed Stages", Rows: p.stageRows(p.listener.CompletedStages())},
			{Title: "Failed Stages", Rows: p.stageRows(p.listener.FailedStages())},
		},
	}

	var buf bytes.Buffer
	if err := stagesTmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render stages page: %w", err)
	}
	return buf.Bytes(), nil
}

// jobSummary recomputes the job-wide figures. The active-task portion of CPU
// time is summed fresh on every call; caching it would freeze the figure for
// running jobs.
func (p *StagePage) jobSummary() JobSummary {
	now := p.now()
	total := p.listener.TotalCPUTime()
	for _, tasks := range p.listener.ActiveTasksByStage() {
		for _, task := range tasks {
			total += task.Elapsed(now)
		}
	}

	return JobSummary{
		CPUTime:      FormatDuration(total),
		ShuffleRead:  formatShuffleBytes(p.listener.TotalShuffleReadBytes()),
		ShuffleWrite: formatShuffleBytes(p.listener.TotalShuffleWriteBytes()),
	}
}

// stageRows builds one row per stage, preserving input order. Ordering is the
// listener's responsibility (finished lists arrive most recent first).
func (p *StagePage) stageRows(stages []*models.Stage) []StageRow {
	rows := make([]StageRow, 0, len(stages))
	for _, stage := range stages {
		rows = append(rows, p.stageRow(stage))
	}
	return rows
}

func (p *StagePage) stageRow(stage *models.Stage) StageRow {
	started := p.listener.ActiveTaskCount(stage.ID)
	completed := p.listener.CompletedTaskCount(stage.ID)
	failed := p.listener.FailedTaskCount(stage.ID)

	return StageRow{
		ID:           stage.ID,
		Origin:       stage.Name,
		Submitted:    formatTimestamp(stage.Submitted),
		Duration:     ElapsedTime(stage.Submitted, stage.Completed, p.now()),
		Progress:     MakeProgressBar(started, completed, stage.NumPartitions),
		Tasks:        TaskLabel(completed, stage.NumPartitions, failed),
		ShuffleRead:  formatShuffleBytes(p.listener.ShuffleReadBytes(stage.ID)),
		ShuffleWrite: formatShuffleBytes(p.listener.ShuffleWriteBytes(stage.ID)),
		Dataset:      stage.Dataset,
	}
}
