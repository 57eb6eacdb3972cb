package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellzap/sellzap/internal/followup"
	"github.com/sellzap/sellzap/pkg/logging"
)

type stubRunner struct {
	result followup.RunResult
	runs   int
}

func (r *stubRunner) Run(_ context.Context) followup.RunResult {
	r.runs++
	return r.result
}

func TestCronFollowUps(t *testing.T) {
	runner := &stubRunner{result: followup.RunResult{Sent: 3, Failed: 1}}
	h := NewCronHandler(runner, logging.New("error"))

	rec := httptest.NewRecorder()
	h.FollowUps(rec, httptest.NewRequest(http.MethodGet, "/cron/follow-ups", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.runs)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["skipped"])
	assert.EqualValues(t, 3, body["sent"])
	assert.EqualValues(t, 1, body["failed"])
	ts, _ := body["timestamp"].(string)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err, "timestamp must be RFC3339")
}

func TestCronFollowUpsOverlap(t *testing.T) {
	runner := &stubRunner{result: followup.RunResult{Skipped: true}}
	h := NewCronHandler(runner, logging.New("error"))

	rec := httptest.NewRecorder()
	h.FollowUps(rec, httptest.NewRequest(http.MethodPost, "/cron/follow-ups", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["skipped"])
}

func TestHealthWithoutDB(t *testing.T) {
	h := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
