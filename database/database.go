package database

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"stagespy/models"
)

// Database wraps BadgerDB and provides job-history operations: finished job
// runs, per-run final stage summaries, and the cached-dataset registry.
type Database struct {
	db   *badger.DB
	path string
}

// NewDatabase opens (or creates) the store under dataDir.
func NewDatabase(dataDir string) (*Database, error) {
	dbPath := filepath.Join(dataDir, "stagespy.db")

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{
		db:   db,
		path: dbPath,
	}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// JobRun operations
func (d *Database) SaveJobRun(run *models.JobRun) error {
	return d.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return txn.Set([]byte(run.Key()), data)
	})
}

func (d *Database) GetJobRun(id string) (*models.JobRun, error) {
	var run models.JobRun
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(models.KeyPrefixJobRun + id))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})

	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListJobRuns returns every stored run, newest first.
func (d *Database) ListJobRuns() ([]*models.JobRun, error) {
	var runs []*models.JobRun

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(models.KeyPrefixJobRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var run models.JobRun
				if err := json.Unmarshal(val, &run); err != nil {
					return err
				}
				runs = append(runs, &run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	// Sort by start time, newest first
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})

	return runs, nil
}

// SearchJobRuns returns runs whose name or workload contains the query,
// case-insensitively, newest first.
func (d *Database) SearchJobRuns(query string) ([]*models.JobRun, error) {
	runs, err := d.ListJobRuns()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var matched []*models.JobRun
	for _, run := range runs {
		if strings.Contains(strings.ToLower(run.Name), query) ||
			strings.Contains(strings.ToLower(run.Workload), query) {
			matched = append(matched, run)
		}
	}
	return matched, nil
}

func (d *Database) DeleteJobRun(id string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		// Drop the run's stage summaries and index first.
		indexKey := []byte(models.RunStagesKey(id))
		item, err := txn.Get(indexKey)
		if err == nil {
			var stageKeys []string
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stageKeys)
			})
			if err != nil {
				return err
			}
			for _, key := range stageKeys {
				if err := txn.Delete([]byte(key)); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
			}
			if err := txn.Delete(indexKey); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		return txn.Delete([]byte(models.KeyPrefixJobRun + id))
	})
}

// StageSummary operations
func (d *Database) SaveStageSummary(summary *models.StageSummary) error {
	return d.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(summary.Key()), data); err != nil {
			return err
		}

		// Update the run stages index
		indexKey := models.RunStagesKey(summary.JobRunID)
		var stageKeys []string

		item, err := txn.Get([]byte(indexKey))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		if err == nil {
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stageKeys)
			})
			if err != nil {
				return err
			}
		}

		// The same stage can be frozen twice (e.g. a re-submitted failed
		// stage); keep one index entry per key.
		key := summary.Key()
		for _, existing := range stageKeys {
			if existing == key {
				return nil
			}
		}
		stageKeys = append(stageKeys, key)

		indexData, err := json.Marshal(stageKeys)
		if err != nil {
			return err
		}
		return txn.Set([]byte(indexKey), indexData)
	})
}

// GetStageSummaries returns the frozen stage summaries for a run, in the
// order they were recorded. A run with no summaries yields an empty slice.
func (d *Database) GetStageSummaries(jobRunID string) ([]*models.StageSummary, error) {
	var summaries []*models.StageSummary

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(models.RunStagesKey(jobRunID)))
		if err == badger.ErrKeyNotFound {
			return nil // No stages recorded
		}
		if err != nil {
			return err
		}

		var stageKeys []string
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stageKeys)
		})
		if err != nil {
			return err
		}

		for _, key := range stageKeys {
			stageItem, err := txn.Get([]byte(key))
			if err != nil {
				continue // Skip missing summaries
			}

			err = stageItem.Value(func(val []byte) error {
				var summary models.StageSummary
				if err := json.Unmarshal(val, &summary); err != nil {
					return err
				}
				summaries = append(summaries, &summary)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// Dataset registry operations
func (d *Database) SaveDataset(dataset *models.DatasetRef) error {
	return d.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(dataset)
		if err != nil {
			return err
		}
		return txn.Set([]byte(dataset.Key()), data)
	})
}

func (d *Database) GetDataset(id string) (*models.DatasetRef, error) {
	var dataset models.DatasetRef
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(models.KeyPrefixDataset + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dataset)
		})
	})

	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

func (d *Database) ListDatasets() ([]*models.DatasetRef, error) {
	var datasets []*models.DatasetRef

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(models.KeyPrefixDataset)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var dataset models.DatasetRef
				if err := json.Unmarshal(val, &dataset); err != nil {
					return err
				}
				datasets = append(datasets, &dataset)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return datasets, nil
}

// GetStats returns aggregate counts for the stats endpoint.
func (d *Database) GetStats() (map[string]interface{}, error) {
	runs, err := d.ListJobRuns()
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]int)
	for _, run := range runs {
		byStatus[run.Status]++
	}

	datasets, err := d.ListDatasets()
	if err != nil {
		return nil, err
	}
	cached := 0
	for _, dataset := range datasets {
		if dataset.Cached() {
			cached++
		}
	}

	return map[string]interface{}{
		"total_runs":      len(runs),
		"by_status":       byStatus,
		"total_datasets":  len(datasets),
		"cached_datasets": cached,
	}, nil
}
