package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"stagespy/client"
	"stagespy/config"
	"stagespy/daemon"
	"stagespy/executor"
	"stagespy/listener"
	"stagespy/models"
	"stagespy/ui"
)

func main() {
	var (
		workload    = flag.String("workload", "", "Workload profile to run (e.g. 'wordcount')")
		jobName     = flag.String("name", "", "Job name (defaults to the workload name)")
		parallelism = flag.Int("parallelism", 4, "Concurrent tasks")
		port        = flag.Int("port", 8080, "Daemon port to connect to")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
		status      = flag.Bool("status", false, "Print daemon status tables and exit")
		search      = flag.String("search", "", "Filter runs by name/workload (with -status)")
		limit       = flag.Int("limit", 20, "Max runs to list (with -status)")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *status {
		if err := printStatus(*port, *search, *limit); err != nil {
			log.Fatalf("Status failed: %v", err)
		}
		return
	}

	if *workload == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -workload <profile> [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Available workloads: %v\n", executor.WorkloadNames())
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	profile, err := executor.LookupWorkload(*workload)
	if err != nil {
		log.Fatalf("%v", err)
	}

	name := *jobName
	if name == "" {
		name = profile.Name
	}

	cfg := &config.CLIConfig{
		Workload:    profile.Name,
		JobName:     name,
		Parallelism: *parallelism,
		DataDir:     config.DefaultDataDir(),
		Verbose:     *verbose,
	}

	// Report to a daemon when one is up, otherwise run self-contained.
	daemonClient := daemon.NewClient(*port)
	if daemonClient.IsRunning() {
		log.Debugf("Detected running daemon on port %d", *port)
		if err := runWithDaemon(cfg, profile, daemonClient, log); err != nil {
			log.Fatalf("Job failed: %v", err)
		}
	} else {
		log.Debug("No daemon detected, running standalone")
		runStandalone(cfg, profile, log)
	}
}

// runWithDaemon executes the workload while streaming every event to the
// daemon, which owns the live page and the history store.
func runWithDaemon(cfg *config.CLIConfig, profile executor.Workload, daemonClient *daemon.Client, log *logrus.Logger) error {
	run := models.NewJobRun(cfg.JobName, cfg.Workload)
	if err := daemonClient.SubmitJobRun(run); err != nil {
		return fmt.Errorf("failed to announce job run: %w", err)
	}

	exec := executor.New(run, profile, executor.Options{
		Parallelism: cfg.Parallelism,
		Heartbeat:   true,
	}, func(event *models.StageEvent) {
		if err := daemonClient.SubmitStageEvent(event); err != nil {
			log.Debugf("failed to submit event: %v", err)
		}
	})
	failed := exec.Run()

	run.Complete(failed)
	if err := daemonClient.SubmitJobRun(run); err != nil {
		return fmt.Errorf("failed to report job completion: %w", err)
	}

	log.WithFields(logrus.Fields{"run": run.ID, "status": run.Status}).Info("job finished")
	if failed {
		return fmt.Errorf("job %s failed", run.ID)
	}
	return nil
}

// runStandalone executes the workload against an in-process listener and
// prints the final stage tables.
func runStandalone(cfg *config.CLIConfig, profile executor.Workload, log *logrus.Logger) {
	live := listener.NewJobMetricsListener()
	run := models.NewJobRun(cfg.JobName, cfg.Workload)

	exec := executor.New(run, profile, executor.Options{
		Parallelism: cfg.Parallelism,
	}, func(event *models.StageEvent) {
		live.Apply(event)
	})
	failed := exec.Run()
	run.Complete(failed)

	printStageTable("Completed Stages", live, live.CompletedStages())
	printStageTable("Failed Stages", live, live.FailedStages())
	log.WithFields(logrus.Fields{"run": run.ID, "status": run.Status}).Info("job finished")
}

func printStageTable(title string, live *listener.JobMetricsListener, stages []*models.Stage) {
	fmt.Println(title)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Stage Id", "Origin", "Duration", "Tasks", "Shuffle Read", "Shuffle Write"})
	for _, stage := range stages {
		completed := live.CompletedTaskCount(stage.ID)
		failedTasks := live.FailedTaskCount(stage.ID)
		table.Append([]string{
			fmt.Sprintf("%d", stage.ID),
			stage.Name,
			ui.ElapsedTime(stage.Submitted, stage.Completed, time.Now()),
			ui.TaskLabel(completed, stage.NumPartitions, failedTasks),
			ui.FormatBytes(live.ShuffleReadBytes(stage.ID)),
			ui.FormatBytes(live.ShuffleWriteBytes(stage.ID)),
		})
	}
	table.Render()
}

// printStatus renders the daemon's live and historical runs as tables.
func printStatus(port int, search string, limit int) error {
	api := client.NewAPIClient(fmt.Sprintf("http://localhost:%d", port))

	stats, err := api.GetStats()
	if err != nil {
		return fmt.Errorf("daemon not reachable on port %d: %w", port, err)
	}
	fmt.Printf("Runs: %d total, %d live · Datasets: %d (%d cached)\n\n",
		stats.TotalRuns, stats.LiveRuns, stats.TotalDatasets, stats.CachedDatasets)

	liveRuns, err := api.GetLiveRuns()
	if err != nil {
		return err
	}
	printRunTable("Live Runs", liveRuns)

	runs, err := api.GetJobRuns(search, limit)
	if err != nil {
		return err
	}
	printRunTable("Recent Runs", runs)
	return nil
}

func printRunTable(title string, runs []*models.JobRun) {
	fmt.Println(title)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run Id", "Name", "Workload", "Started", "Duration", "Status"})
	for _, run := range runs {
		duration := "-"
		if run.Duration != nil {
			duration = fmt.Sprintf("%d ms", *run.Duration)
		}
		table.Append([]string{
			run.ID,
			run.Name,
			run.Workload,
			run.StartTime.Format("2006/01/02 15:04:05"),
			duration,
			run.Status,
		})
	}
	table.Render()
	fmt.Println()
}
