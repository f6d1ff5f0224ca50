package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"stagespy/models"
)

// APIClient reads job history and live state from the stagespyd daemon.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StatsResponse represents the daemon statistics.
type StatsResponse struct {
	TotalRuns      int            `json:"total_runs"`
	LiveRuns       int            `json:"live_runs"`
	ByStatus       map[string]int `json:"by_status"`
	TotalDatasets  int            `json:"total_datasets"`
	CachedDatasets int            `json:"cached_datasets"`
}

// GetJobRuns fetches stored job runs, optionally filtered and limited.
func (c *APIClient) GetJobRuns(search string, limit int) ([]*models.JobRun, error) {
	u, err := url.Parse(c.baseURL + "/api/runs")
	if err != nil {
		return nil, err
	}

	params := u.Query()
	if search != "" {
		params.Set("search", search)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = params.Encode()

	var runs []*models.JobRun
	if err := c.get(u.String(), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetLiveRuns fetches currently running jobs.
func (c *APIClient) GetLiveRuns() ([]*models.JobRun, error) {
	var runs []*models.JobRun
	if err := c.get(c.baseURL+"/api/live", &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetJobRun fetches details for a specific run.
func (c *APIClient) GetJobRun(runID string) (*models.JobRun, error) {
	var run models.JobRun
	if err := c.get(c.baseURL+"/api/runs/"+runID, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetStageSummaries fetches the frozen stage summaries for a run.
func (c *APIClient) GetStageSummaries(runID string) ([]*models.StageSummary, error) {
	var summaries []*models.StageSummary
	if err := c.get(c.baseURL+"/api/runs/"+runID+"/stages", &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetDatasets fetches the cached-dataset registry.
func (c *APIClient) GetDatasets() ([]*models.DatasetRef, error) {
	var datasets []*models.DatasetRef
	if err := c.get(c.baseURL+"/api/datasets", &datasets); err != nil {
		return nil, err
	}
	return datasets, nil
}

// GetStats fetches daemon statistics.
func (c *APIClient) GetStats() (*StatsResponse, error) {
	var stats StatsResponse
	if err := c.get(c.baseURL+"/api/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *APIClient) get(url string, out interface{}) error {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
