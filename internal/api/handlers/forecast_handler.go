package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

// ForecastService is the part of service.ForecastService the handlers use.
type ForecastService interface {
	Run(ctx context.Context) (*domain.RunReport, error)
	Trigger(ctx context.Context) (string, error)
	Latest(ctx context.Context) (*domain.RunReport, error)
	Get(ctx context.Context, runID string) (*domain.RunReport, error)
}

type ForecastHandler struct {
	forecastService ForecastService
}

func NewForecastHandler(forecastService ForecastService) *ForecastHandler {
	return &ForecastHandler{forecastService: forecastService}
}

type runResponse struct {
	RunID   string            `json:"run_id"`
	Message string            `json:"message"`
	Report  *domain.RunReport `json:"report,omitempty"`
}

// StartRun starts a forecast run. With ?wait=true it blocks and returns the report.
func (h *ForecastHandler) StartRun(c *gin.Context) {
	wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))

	if !wait {
		runID, err := h.forecastService.Trigger(c.Request.Context())
		if err != nil {
			h.runError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, runResponse{RunID: runID, Message: "forecast run started"})
		return
	}

	report, err := h.forecastService.Run(c.Request.Context())
	if report == nil {
		h.runError(c, err)
		return
	}
	// Failed runs still return 200 with their report.
	c.JSON(http.StatusOK, runResponse{RunID: report.RunID, Message: report.Message(), Report: report})
}

func (h *ForecastHandler) runError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	log.Error().Err(err).Msg("failed to start forecast run")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start forecast run"})
}

// GetLatestRun returns the most recent run report
func (h *ForecastHandler) GetLatestRun(c *gin.Context) {
	report, err := h.forecastService.Latest(c.Request.Context())
	h.respondReport(c, report, err)
}

// GetRun returns a run report by id
func (h *ForecastHandler) GetRun(c *gin.Context) {
	report, err := h.forecastService.Get(c.Request.Context(), c.Param("id"))
	h.respondReport(c, report, err)
}

func (h *ForecastHandler) respondReport(c *gin.Context, report *domain.RunReport, err error) {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Err(err).Msg("failed to fetch forecast run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch forecast run"})
	default:
		c.JSON(http.StatusOK, report)
	}
}
