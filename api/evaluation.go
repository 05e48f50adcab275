package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/queue"
)

// EvaluationHandlers implements the /evaluation/testsets and
// /evaluation/experiments endpoints. Both generation and scoring are
// long-running, so both POST handlers only create the row and enqueue the
// background job; progress is observed by polling GET.
type EvaluationHandlers struct {
	testsets    repository.TestSetRepository
	experiments repository.ExperimentRepository
	jobs        *queue.Queue
}

func NewEvaluationHandlers(testsets repository.TestSetRepository, experiments repository.ExperimentRepository, jobs *queue.Queue) *EvaluationHandlers {
	return &EvaluationHandlers{testsets: testsets, experiments: experiments, jobs: jobs}
}

type createTestSetRequest struct {
	Name         string   `json:"name"`
	KBID         string   `json:"kb_id"`
	SourceDocIDs []string `json:"source_doc_ids"`
}

// CreateTestSet handles POST /evaluation/testsets.
func (h *EvaluationHandlers) CreateTestSet(c echo.Context) error {
	var req createTestSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.KBID == "" {
		return apperrors.New(apperrors.KindInvalid, "create test set", nil)
	}

	id := uuid.NewString()
	ts := &domain.TestSet{ID: id, Name: req.Name, BlobPath: "testsets/" + id + ".csv", Status: domain.TestSetStatusPending}
	if err := h.testsets.Create(c.Request().Context(), ts); err != nil {
		return apperrors.New(apperrors.KindInternal, "create test set", err)
	}

	job := queue.Job{
		ID:       uuid.NewString(),
		Function: "generate_testset",
		Args: map[string]interface{}{
			"test_set_id":    ts.ID,
			"kb_id":          req.KBID,
			"source_doc_ids": req.SourceDocIDs,
		},
		QueueName: "default",
		MaxTries:  3,
	}
	if err := h.jobs.Enqueue(c.Request().Context(), job); err != nil {
		return apperrors.New(apperrors.KindInternal, "enqueue test set generation", err)
	}
	return c.JSON(http.StatusAccepted, ts)
}

// ListTestSets handles GET /evaluation/testsets.
func (h *EvaluationHandlers) ListTestSets(c echo.Context) error {
	sets, err := h.testsets.List(c.Request().Context())
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "list test sets", err)
	}
	return c.JSON(http.StatusOK, sets)
}

// GetTestSet handles GET /evaluation/testsets/{id}.
func (h *EvaluationHandlers) GetTestSet(c echo.Context) error {
	ts, err := h.testsets.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.NotFound("test set", c.Param("id"))
	}
	return c.JSON(http.StatusOK, ts)
}

// DeleteTestSet handles DELETE /evaluation/testsets/{id}.
func (h *EvaluationHandlers) DeleteTestSet(c echo.Context) error {
	if err := h.testsets.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete test set", err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createExperimentRequest struct {
	KBID          string                 `json:"kb_id"`
	TestSetID     string                 `json:"test_set_id"`
	RuntimeParams map[string]interface{} `json:"runtime_params"`
}

// CreateExperiment handles POST /evaluation/experiments.
func (h *EvaluationHandlers) CreateExperiment(c echo.Context) error {
	var req createExperimentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.KBID == "" || req.TestSetID == "" {
		return apperrors.New(apperrors.KindInvalid, "create experiment", nil)
	}

	exp := &domain.Experiment{
		ID:            uuid.NewString(),
		KBID:          req.KBID,
		TestSetID:     req.TestSetID,
		RuntimeParams: req.RuntimeParams,
		Status:        domain.ExperimentStatusPending,
	}
	if err := h.experiments.Create(c.Request().Context(), exp); err != nil {
		return apperrors.New(apperrors.KindInternal, "create experiment", err)
	}

	job := queue.Job{
		ID:        uuid.NewString(),
		Function:  "run_experiment",
		Args:      map[string]interface{}{"experiment_id": exp.ID},
		QueueName: "default",
		MaxTries:  3,
	}
	if err := h.jobs.Enqueue(c.Request().Context(), job); err != nil {
		return apperrors.New(apperrors.KindInternal, "enqueue experiment run", err)
	}
	return c.JSON(http.StatusAccepted, exp)
}

// ListExperiments handles GET /evaluation/experiments.
func (h *EvaluationHandlers) ListExperiments(c echo.Context) error {
	kbID := c.QueryParam("kb_id")
	exps, err := h.experiments.ListByKB(c.Request().Context(), kbID)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "list experiments", err)
	}
	return c.JSON(http.StatusOK, exps)
}

// GetExperiment handles GET /evaluation/experiments/{id}.
func (h *EvaluationHandlers) GetExperiment(c echo.Context) error {
	exp, err := h.experiments.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.NotFound("experiment", c.Param("id"))
	}
	return c.JSON(http.StatusOK, exp)
}

// DeleteExperiment handles DELETE /evaluation/experiments/{id}.
func (h *EvaluationHandlers) DeleteExperiment(c echo.Context) error {
	if err := h.experiments.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apperrors.New(apperrors.KindInternal, "delete experiment", err)
	}
	return c.NoContent(http.StatusNoContent)
}
