package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagespy/models"
)

// clientFor points a Client at a test server.
func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient(port)
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats", r.URL.Path)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	assert.True(t, clientFor(t, srv).IsRunning())
}

func TestIsRunningNoDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Port is now free

	assert.False(t, clientFor(t, srv).IsRunning())
}

func TestSubmitStageEvent(t *testing.T) {
	var got struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/live/submit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	event := models.NewStageEvent("run-1", models.EventTaskStart)
	event.Task = &models.TaskInfo{ID: 7, StageID: 0}
	require.NoError(t, clientFor(t, srv).SubmitStageEvent(event))

	assert.Equal(t, "stage_event", got.Type)
	var decoded models.StageEvent
	require.NoError(t, json.Unmarshal(got.Data, &decoded))
	assert.Equal(t, "run-1", decoded.JobRunID)
	assert.Equal(t, int64(7), decoded.Task.ID)
}

func TestSubmitJobRunErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := clientFor(t, srv).SubmitJobRun(models.NewJobRun("x", "wordcount"))
	assert.Error(t, err)
}
