package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stagespy/config"
	"stagespy/database"
	"stagespy/executor"
	"stagespy/listener"
	"stagespy/models"
	"stagespy/ui"
)

// Daemon serves the live stages page, the job-history API, and the websocket
// event feed, and folds submitted events into the metrics listener.
type Daemon struct {
	config   *config.DaemonConfig
	database *database.Database
	listener *listener.JobMetricsListener
	page     *ui.StagePage
	server   *http.Server
	log      *logrus.Logger

	mutex       sync.Mutex
	liveRuns    map[string]*LiveRunMonitor
	subscribers []chan *models.StageEvent
}

// LiveRunMonitor tracks a currently running job for liveness and display.
type LiveRunMonitor struct {
	JobRunID  string
	StartTime time.Time
	LastSeen  time.Time
	Heartbeat *models.ExecutorHeartbeat
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func main() {
	var (
		dataDir = flag.String("data", config.DefaultDataDir(), "Data directory for job history")
		port    = flag.Int("port", 8080, "HTTP server port")
		verbose = flag.Bool("verbose", false, "Verbose logging")
		demo    = flag.Bool("demo", false, "Run a demo workload in-process")
	)
	flag.Parse()

	cfg := &config.DaemonConfig{
		DataDir: *dataDir,
		Port:    *port,
		Verbose: *verbose,
		Demo:    *demo,
	}

	log := logrus.New()
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	daemon, err := NewDaemon(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize daemon: %v", err)
	}
	defer daemon.Close()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := daemon.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.WithFields(logrus.Fields{
		"port": cfg.Port,
		"data": cfg.DataDir,
	}).Info("stagespy daemon started")

	if cfg.Demo {
		go daemon.runDemo()
	}

	<-sigChan
	log.Info("Shutting down daemon")
	daemon.Shutdown()
}

func NewDaemon(cfg *config.DaemonConfig, log *logrus.Logger) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := database.NewDatabase(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	live := listener.NewJobMetricsListener()
	daemon := &Daemon{
		config:   cfg,
		database: db,
		listener: live,
		page:     ui.NewStagePage(live),
		log:      log,
		liveRuns: make(map[string]*LiveRunMonitor),
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/stages", http.StatusFound)
	})
	r.Get("/stages", daemon.handleStagesPage)
	r.Get("/api/runs", daemon.handleListRuns)
	r.Get("/api/runs/{id}", daemon.handleRunInfo)
	r.Delete("/api/runs/{id}", daemon.handleDeleteRun)
	r.Get("/api/runs/{id}/stages", daemon.handleRunStages)
	r.Get("/api/live", daemon.handleListLiveRuns)
	r.Get("/api/stats", daemon.handleStats)
	r.Get("/api/datasets", daemon.handleListDatasets)
	r.Get("/api/datasets/{id}", daemon.handleDataset)
	r.Post("/api/live/submit", daemon.handleLiveSubmit)
	r.Get("/ws/live", daemon.handleLiveWebSocket)

	daemon.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go daemon.backgroundTasks()

	return daemon, nil
}

func (d *Daemon) Start() error {
	return d.server.ListenAndServe()
}

func (d *Daemon) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d.server.Shutdown(ctx)
}

func (d *Daemon) Close() {
	if d.database != nil {
		d.database.Close()
	}
}

func (d *Daemon) backgroundTasks() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		d.reapStaleRuns()
	}
}

// reapStaleRuns marks runs that stopped reporting as failed. An executor that
// crashes mid-job never sends a terminal job_run update, so liveness is
// inferred from event recency.
func (d *Daemon) reapStaleRuns() {
	cutoff := time.Now().Add(-30 * time.Second)

	d.mutex.Lock()
	var stale []string
	for runID, monitor := range d.liveRuns {
		if monitor.LastSeen.Before(cutoff) {
			stale = append(stale, runID)
			delete(d.liveRuns, runID)
		}
	}
	d.mutex.Unlock()

	for _, runID := range stale {
		run, err := d.database.GetJobRun(runID)
		if err != nil {
			d.log.WithField("run", runID).Debugf("stale run not in database: %v", err)
			continue
		}
		run.Complete(true)
		if err := d.database.SaveJobRun(run); err != nil {
			d.log.WithField("run", runID).Warnf("failed to mark stale run failed: %v", err)
		}
		d.log.WithField("run", runID).Info("marked stale run as failed")
	}
}

// HTTP handlers

func (d *Daemon) handleStagesPage(w http.ResponseWriter, r *http.Request) {
	page, err := d.page.Render(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write(page)
}

func (d *Daemon) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	search := query.Get("search")
	limitStr := query.Get("limit")

	limit := 50 // default limit
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	var runs []*models.JobRun
	var err error

	if search != "" {
		runs, err = d.database.SearchJobRuns(search)
	} else {
		runs, err = d.database.ListJobRuns()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(runs) > limit {
		runs = runs[:limit]
	}

	// The live list is served separately; drop running jobs here.
	d.mutex.Lock()
	var finished []*models.JobRun
	for _, run := range runs {
		if _, isLive := d.liveRuns[run.ID]; !isLive {
			finished = append(finished, run)
		}
	}
	d.mutex.Unlock()

	writeJSON(w, finished)
}

func (d *Daemon) handleListLiveRuns(w http.ResponseWriter, r *http.Request) {
	d.mutex.Lock()
	ids := make([]string, 0, len(d.liveRuns))
	for runID := range d.liveRuns {
		ids = append(ids, runID)
	}
	d.mutex.Unlock()

	var liveRuns []*models.JobRun
	for _, runID := range ids {
		run, err := d.database.GetJobRun(runID)
		if err != nil {
			d.log.WithField("run", runID).Debugf("failed to fetch live run: %v", err)
			continue
		}
		liveRuns = append(liveRuns, run)
	}

	writeJSON(w, liveRuns)
}

func (d *Daemon) handleRunInfo(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := d.database.GetJobRun(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, run)
}

func (d *Daemon) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	d.mutex.Lock()
	_, isLive := d.liveRuns[runID]
	d.mutex.Unlock()
	if isLive {
		http.Error(w, "Cannot delete a running job", http.StatusConflict)
		return
	}

	if err := d.database.DeleteJobRun(runID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"deleted": runID})
}

func (d *Daemon) handleRunStages(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	summaries, err := d.database.GetStageSummaries(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summaries)
}

func (d *Daemon) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.database.GetStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	d.mutex.Lock()
	stats["live_runs"] = len(d.liveRuns)
	d.mutex.Unlock()

	writeJSON(w, stats)
}

func (d *Daemon) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := d.database.ListDatasets()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, datasets)
}

func (d *Daemon) handleDataset(w http.ResponseWriter, r *http.Request) {
	dataset, err := d.database.GetDataset(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, dataset)
}

// handleLiveSubmit receives job runs and stage events from executors.
func (d *Daemon) handleLiveSubmit(w http.ResponseWriter, r *http.Request) {
	var submission struct {
		Type string          `json:"type"` // "job_run", "stage_event"
		Data json.RawMessage `json:"data"`
	}

	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	switch submission.Type {
	case "job_run":
		var run models.JobRun
		if err := json.Unmarshal(submission.Data, &run); err != nil {
			http.Error(w, "Invalid job run data", http.StatusBadRequest)
			return
		}
		if err := d.acceptJobRun(&run); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

	case "stage_event":
		var event models.StageEvent
		if err := json.Unmarshal(submission.Data, &event); err != nil {
			http.Error(w, "Invalid stage event data", http.StatusBadRequest)
			return
		}
		if err := d.acceptStageEvent(&event); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

	default:
		http.Error(w, "Unknown submission type", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

// acceptJobRun persists a run announcement and keeps the live-run map in sync
// with its status.
func (d *Daemon) acceptJobRun(run *models.JobRun) error {
	if err := d.database.SaveJobRun(run); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if run.Status == models.RunStatusRunning {
		if _, ok := d.liveRuns[run.ID]; !ok {
			d.liveRuns[run.ID] = &LiveRunMonitor{
				JobRunID:  run.ID,
				StartTime: run.StartTime,
				LastSeen:  time.Now(),
			}
		}
	} else {
		delete(d.liveRuns, run.ID)
	}
	return nil
}

// acceptStageEvent folds one event into the live listener, persists what
// needs freezing, and fans it out to websocket subscribers.
func (d *Daemon) acceptStageEvent(event *models.StageEvent) error {
	d.listener.Apply(event)
	d.touchLiveRun(event)

	switch event.Type {
	case models.EventStageSubmitted:
		if event.Stage != nil && event.Stage.Dataset.Cached() {
			if err := d.database.SaveDataset(event.Stage.Dataset); err != nil {
				return err
			}
		}
	case models.EventStageCompleted:
		if event.Stage != nil {
			status := models.StageStatusCompleted
			if event.StageFailed {
				status = models.StageStatusFailed
			}
			summary := d.listener.Summary(event.Stage, status)
			if err := d.database.SaveStageSummary(summary); err != nil {
				return err
			}
		}
	}

	d.broadcastEvent(event)
	return nil
}

func (d *Daemon) touchLiveRun(event *models.StageEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if monitor, ok := d.liveRuns[event.JobRunID]; ok {
		monitor.LastSeen = time.Now()
		if event.Heartbeat != nil {
			monitor.Heartbeat = event.Heartbeat
		}
	}
}

// Websocket fan-out

func (d *Daemon) handleLiveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := make(chan *models.StageEvent, 64)
	d.subscribe(events)
	defer d.unsubscribe(events)

	// Reader goroutine only detects the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (d *Daemon) subscribe(ch chan *models.StageEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.subscribers = append(d.subscribers, ch)
}

func (d *Daemon) unsubscribe(ch chan *models.StageEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for i, sub := range d.subscribers {
		if sub == ch {
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			break
		}
	}
}

func (d *Daemon) broadcastEvent(event *models.StageEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, sub := range d.subscribers {
		select {
		case sub <- event:
		default: // Slow subscriber; drop rather than stall intake
		}
	}
}

// runDemo executes a built-in workload against the live listener so the
// stages page has something to show out of the box.
func (d *Daemon) runDemo() {
	workload, err := executor.LookupWorkload("pagerank")
	if err != nil {
		d.log.Errorf("demo workload: %v", err)
		return
	}

	run := models.NewJobRun("demo", workload.Name)
	if err := d.acceptJobRun(run); err != nil {
		d.log.Errorf("demo run: %v", err)
		return
	}

	exec := executor.New(run, workload, executor.Options{Heartbeat: true}, func(event *models.StageEvent) {
		if err := d.acceptStageEvent(event); err != nil {
			d.log.Debugf("demo event: %v", err)
		}
	})
	failed := exec.Run()

	run.Complete(failed)
	if err := d.acceptJobRun(run); err != nil {
		d.log.Errorf("demo run completion: %v", err)
	}
	d.log.WithField("status", run.Status).Info("demo workload finished")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
