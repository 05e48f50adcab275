package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/queue"
)

func newEvaluationHandlers(t *testing.T) *EvaluationHandlers {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewQueueWithClient(client, "ragctl")

	store := repository.NewMemoryStore()
	testsets := repository.MemoryTestSetRepository{MemoryStore: store}
	experiments := repository.MemoryExperimentRepository{MemoryStore: store}
	return NewEvaluationHandlers(testsets, experiments, q)
}

func TestEvaluationHandlers_CreateTestSetEnqueuesGeneration(t *testing.T) {
	h := newEvaluationHandlers(t)
	e := echo.New()

	body := `{"name":"regression set","kb_id":"kb1","source_doc_ids":["d1","d2"]}`
	req := httptest.NewRequest(http.MethodPost, "/evaluation/testsets", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.CreateTestSet(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var ts domain.TestSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ts))
	assert.Equal(t, domain.TestSetStatusPending, ts.Status)

	depth, err := h.jobs.GetQueueDepth(t.Context(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestEvaluationHandlers_CreateExperimentEnqueuesRun(t *testing.T) {
	h := newEvaluationHandlers(t)
	e := echo.New()

	body := `{"kb_id":"kb1","test_set_id":"ts1"}`
	req := httptest.NewRequest(http.MethodPost, "/evaluation/experiments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.CreateExperiment(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var exp domain.Experiment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exp))
	assert.Equal(t, domain.ExperimentStatusPending, exp.Status)
}

func TestEvaluationHandlers_GetTestSetNotFound(t *testing.T) {
	h := newEvaluationHandlers(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/evaluation/testsets/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := h.GetTestSet(c)
	require.Error(t, err)
}
