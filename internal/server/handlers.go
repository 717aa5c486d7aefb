package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/syncer"
	"github.com/tphakala/ebirdsync/internal/watermark"
)

// healther is implemented by stores that can check their backend.
type healther interface {
	Health(ctx context.Context) error
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Store  string `json:"store,omitempty"`
}

// IntegrationStatus is one entry of the integrations listing.
type IntegrationStatus struct {
	ID       string `json:"id"`
	ActionID string `json:"action_id"`
	Running  bool   `json:"running"`
}

// StateResponse describes a stored watermark.
type StateResponse struct {
	IntegrationID       string     `json:"integration_id"`
	ActionID            string     `json:"action_id"`
	Found               bool       `json:"found"`
	LatestObservationAt *time.Time `json:"latest_observation_at"`
	Error               string     `json:"error,omitempty"`
}

// PullError is returned when a triggered run fails.
type PullError struct {
	Error    string        `json:"error"`
	Category string        `json:"category"`
	Result   syncer.Result `json:"result"`
}

func (s *Server) healthCheck(c echo.Context) error {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}

	if h, ok := s.store.(healther); ok {
		if err := h.Health(c.Request().Context()); err != nil {
			s.log.Warn("watermark store health check failed", logger.Error(err))
			resp.Status = "degraded"
			resp.Store = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.Store = "ok"
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) listIntegrations(c echo.Context) error {
	list := make([]IntegrationStatus, 0, len(s.settings.Integrations))
	for i := range s.settings.Integrations {
		integration := &s.settings.Integrations[i]
		list = append(list, IntegrationStatus{
			ID:       integration.ID,
			ActionID: integration.ActionID,
			Running:  s.isBusy(integration.ID),
		})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) triggerPull(c echo.Context) error {
	id := c.Param("id")

	result, err := s.runOnce(id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, errBusy):
		return echo.NewHTTPError(http.StatusConflict, "sync already running for integration "+id)
	case errors.Is(err, errShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.IsCategory(err, errors.CategoryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	category := errors.CategoryOf(err)
	return c.JSON(statusForCategory(category), PullError{
		Error:    err.Error(),
		Category: string(category),
		Result:   result,
	})
}

func (s *Server) getState(c echo.Context) error {
	integration, ok := s.settings.Integration(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown integration "+c.Param("id"))
	}

	resp := StateResponse{
		IntegrationID: integration.ID,
		ActionID:      integration.ActionID,
	}

	blob, found, err := s.store.Get(c.Request().Context(), integration.ID, integration.ActionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to read watermark")
	}
	if !found {
		return c.JSON(http.StatusOK, resp)
	}

	latest, ok, err := watermark.Decode(blob)
	if err != nil {
		resp.Error = err.Error()
		return c.JSON(http.StatusOK, resp)
	}
	if ok {
		resp.Found = true
		resp.LatestObservationAt = &latest
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) resetState(c echo.Context) error {
	integration, ok := s.settings.Integration(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown integration "+c.Param("id"))
	}
	if s.isBusy(integration.ID) {
		return echo.NewHTTPError(http.StatusConflict, "sync running for integration "+integration.ID)
	}

	if err := s.store.Delete(c.Request().Context(), integration.ID, integration.ActionID); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to reset watermark")
	}

	s.log.Info("watermark reset",
		logger.String("integration_id", integration.ID),
		logger.String("action_id", integration.ActionID))
	return c.NoContent(http.StatusNoContent)
}

func statusForCategory(category errors.ErrorCategory) int {
	switch category {
	case errors.CategoryConfiguration, errors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case errors.CategoryAuthentication, errors.CategoryNetwork, errors.CategorySubmission,
		errors.CategoryLimit, errors.CategoryTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
