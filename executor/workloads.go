package executor

import (
	"fmt"
	"sort"
	"time"
)

// StageTemplate describes one stage of a workload profile.
type StageTemplate struct {
	Name          string        `json:"name"`
	NumPartitions int           `json:"num_partitions"`
	TaskDuration  time.Duration `json:"task_duration"`  // Mean task run time
	ShuffleRead   uint64        `json:"shuffle_read"`   // Bytes read per task
	ShuffleWrite  uint64        `json:"shuffle_write"`  // Bytes written per task
	FailureRate   float64       `json:"failure_rate"`   // Probability a task attempt fails
	CacheOutput   bool          `json:"cache_output"`   // Register the produced dataset as cached
	StorageLevel  string        `json:"storage_level"`  // Storage level when cached
	DatasetName   string        `json:"dataset_name"`   // Optional name for the produced dataset
}

// Workload is a named stage graph the executor can run.
type Workload struct {
	Name   string          `json:"name"`
	Stages []StageTemplate `json:"stages"`
}

// Built-in workload profiles, roughly ordered by shuffle pressure.
var workloads = map[string]Workload{
	"wordcount": {
		Name: "wordcount",
		Stages: []StageTemplate{
			{Name: "map at wordcount.go:12", NumPartitions: 8, TaskDuration: 400 * time.Millisecond, ShuffleWrite: 256 << 10},
			{Name: "reduceByKey at wordcount.go:14", NumPartitions: 4, TaskDuration: 600 * time.Millisecond, ShuffleRead: 512 << 10, CacheOutput: true, StorageLevel: "MEMORY", DatasetName: "counts"},
		},
	},
	"terasort": {
		Name: "terasort",
		Stages: []StageTemplate{
			{Name: "sample at terasort.go:21", NumPartitions: 4, TaskDuration: 200 * time.Millisecond},
			{Name: "sortByKey at terasort.go:24", NumPartitions: 16, TaskDuration: 900 * time.Millisecond, ShuffleWrite: 4 << 20, FailureRate: 0.02},
			{Name: "save at terasort.go:27", NumPartitions: 16, TaskDuration: 500 * time.Millisecond, ShuffleRead: 4 << 20},
		},
	},
	"pagerank": {
		Name: "pagerank",
		Stages: []StageTemplate{
			{Name: "parse at pagerank.go:9", NumPartitions: 8, TaskDuration: 300 * time.Millisecond, ShuffleWrite: 1 << 20, CacheOutput: true, StorageLevel: "MEMORY", DatasetName: "links"},
			{Name: "join at pagerank.go:17", NumPartitions: 8, TaskDuration: 700 * time.Millisecond, ShuffleRead: 1 << 20, ShuffleWrite: 1 << 20, FailureRate: 0.05},
			{Name: "reduce at pagerank.go:19", NumPartitions: 8, TaskDuration: 400 * time.Millisecond, ShuffleRead: 1 << 20},
		},
	},
}

// LookupWorkload resolves a workload profile by name.
func LookupWorkload(name string) (Workload, error) {
	w, ok := workloads[name]
	if !ok {
		return Workload{}, fmt.Errorf("unknown workload %q (available: %v)", name, WorkloadNames())
	}
	return w, nil
}

// WorkloadNames lists the available profiles.
func WorkloadNames() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
