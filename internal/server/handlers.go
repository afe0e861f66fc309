package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type createRequestBody struct {
	RepositoryURL string   `json:"repository_url"`
	Provider      string   `json:"provider"`
	AnalysisTypes []string `json:"analysis_types"`
	AccessToken   string   `json:"access_token"`
}

// requestView decorates a request with its queue position while it
// waits for admission.
type requestView struct {
	*analysis.Request
	QueuePosition int `json:"queue_position,omitempty"`
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateRequest validates a submission, persists the queued
// request, and caches the access token for the request's lifetime. The
// token is never persisted and never echoed back.
func (s *Server) handleCreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	req, err := analysis.NewRequest(analysis.NewRequestInput{
		RepositoryURL: body.RepositoryURL,
		Provider:      body.Provider,
		AnalysisTypes: body.AnalysisTypes,
	}, s.prompts)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	ctx := logging.WithRequestID(c.Request().Context(), req.ID)
	if err := s.store.SaveRequest(ctx, req); err != nil {
		s.logger.Error(ctx, "failed to persist request", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to persist request"))
	}
	s.correlation.PutToken(req.ID, body.AccessToken)

	s.logger.Info(ctx, "request accepted",
		zap.String("repository_url", req.RepositoryURL),
		zap.Strings("analysis_types", req.AnalysisTypes))
	return c.JSON(http.StatusAccepted, req)
}

func (s *Server) handleListRequests(c echo.Context) error {
	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", defaultPageSize)
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	requests, err := s.store.ListRequests(c.Request().Context(), offset, limit)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list requests", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list requests"))
	}
	if requests == nil {
		requests = []*analysis.Request{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"requests": requests,
		"offset":   offset,
		"limit":    limit,
	})
}

func (s *Server) handleGetRequest(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := s.store.GetRequest(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("request not found"))
	}
	if err != nil {
		s.logger.Error(ctx, "failed to load request", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load request"))
	}

	view := requestView{Request: req}
	if req.Status == analysis.StatusQueued {
		ahead, err := s.store.CountQueuedBefore(ctx, req.CreatedAt)
		if err != nil {
			s.logger.Error(ctx, "failed to compute queue position", zap.Error(err))
		} else {
			view.QueuePosition = ahead + 1
		}
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleListFindings(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.store.GetRequest(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("request not found"))
		}
		s.logger.Error(ctx, "failed to load request", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load request"))
	}

	findings, err := s.store.ListFindingsForRequest(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "failed to list findings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list findings"))
	}
	if findings == nil {
		findings = []*analysis.Finding{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"request_id": id,
		"findings":   findings,
	})
}

func (s *Server) handleGetSummary(c echo.Context) error {
	ctx := c.Request().Context()
	summary, err := s.consolidator.Summarize(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("request not found"))
	}
	if err != nil {
		s.logger.Error(ctx, "failed to build summary", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to build summary"))
	}
	return c.JSON(http.StatusOK, summary)
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
