package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stagespy/models"
)

// Client communicates with the stagespyd daemon from the reporting side.
// Submissions are fire-and-forget: a dropped event costs one update, a
// blocked executor costs the job.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for a daemon on localhost.
func NewClient(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://localhost:%d", port),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsRunning checks if the daemon is reachable.
func (c *Client) IsRunning() bool {
	resp, err := c.client.Get(c.baseURL + "/api/stats")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

// SubmitJobRun announces a job run (new or updated) to the daemon.
func (c *Client) SubmitJobRun(run *models.JobRun) error {
	return c.submit("job_run", run)
}

// SubmitStageEvent sends one stage/task lifecycle event to the daemon.
func (c *Client) SubmitStageEvent(event *models.StageEvent) error {
	return c.submit("stage_event", event)
}

// submit sends data to the daemon's live submission endpoint
func (c *Client) submit(dataType string, data interface{}) error {
	submission := map[string]interface{}{
		"type": dataType,
		"data": data,
	}

	jsonData, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	resp, err := c.client.Post(
		c.baseURL+"/api/live/submit",
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return fmt.Errorf("failed to send data to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned error: %s", resp.Status)
	}

	return nil
}
