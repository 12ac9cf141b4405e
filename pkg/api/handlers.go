package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
)

const maxBodyBytes = 2 * models.MaxPromptBytes

type documentResponse struct {
	RequestID  string   `json:"requestId"`
	Document   string   `json:"document"`
	Cached     bool     `json:"cached"`
	Similarity *float64 `json:"similarity,omitempty"`
	Simplified bool     `json:"simplified,omitempty"`
	Attempts   int      `json:"attempts,omitempty"`
}

type pollingResponse struct {
	RequestID       string `json:"requestId"`
	RequiresPolling bool   `json:"requiresPolling"`
	JobID           string `json:"jobId"`
	EstimatedTime   string `json:"estimatedTime"`
}

type splitResponse struct {
	RequestID     string   `json:"requestId"`
	RequiresSplit bool     `json:"requiresSplit"`
	SubPrompts    []string `json:"subPrompts"`
	Reasoning     string   `json:"reasoning"`
}

type jobResponse struct {
	ID           string           `json:"id"`
	Status       models.JobStatus `json:"status"`
	Document     string           `json:"document,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	ErrorKind    models.ErrorKind `json:"errorKind,omitempty"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  models.ErrorKind `json:"kind"`
}

func (s *Server) fail(c *gin.Context, err error) {
	status := models.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorResponse{Error: models.UserMessage(err), Kind: models.KindOf(err)})
}

func (s *Server) bind(c *gin.Context) (models.GenerationRequest, bool) {
	var req models.GenerationRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, models.NewError(models.KindInput, "request body must be a JSON generation request", models.ErrInputInvalid))
		return req, false
	}
	return req, true
}

func (s *Server) generate(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	resp, err := s.pipeline.Handle(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	switch resp.Outcome {
	case pipeline.OutcomeQueued:
		c.JSON(http.StatusAccepted, pollingResponse{
			RequestID:       resp.RequestID,
			RequiresPolling: true,
			JobID:           resp.JobID,
			EstimatedTime:   resp.EstimatedTime,
		})
	case pipeline.OutcomeSplit:
		c.JSON(http.StatusOK, splitResponse{
			RequestID:     resp.RequestID,
			RequiresSplit: true,
			SubPrompts:    resp.SubPrompts,
			Reasoning:     resp.Reasoning,
		})
	default:
		c.JSON(http.StatusOK, documentResponse{
			RequestID:  resp.RequestID,
			Document:   resp.Document,
			Cached:     resp.Cached,
			Similarity: resp.Similarity,
			Simplified: resp.Simplified,
			Attempts:   resp.Attempts,
		})
	}
}

func (s *Server) analyze(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	a, err := s.pipeline.Analyze(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) job(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "background jobs are disabled", Kind: models.KindInput})
		return
	}
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "job not found", Kind: models.KindInput})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResponse{
		ID:           job.ID,
		Status:       job.Status,
		Document:     job.Document,
		ErrorMessage: job.ErrorMessage,
		ErrorKind:    job.ErrorKind,
	})
}

func (s *Server) cacheStats(c *gin.Context) {
	if !s.cache.Enabled() {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	stats, err := s.cache.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) stats(c *gin.Context) {
	if s.usage == nil {
		c.JSON(http.StatusOK, []models.UsageSummary{})
		return
	}
	var dt models.DiagramType
	if q := c.Query("diagramType"); q != "" {
		parsed, err := models.ParseDiagramType(q)
		if err != nil {
			s.fail(c, models.NewError(models.KindInput, "diagramType must be one of bpmn, pid, dmn", models.ErrInputInvalid))
			return
		}
		dt = parsed
	}
	rows, err := s.usage.Summary(c.Request.Context(), dt)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rows == nil {
		rows = []models.UsageSummary{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) quotaStatus(c *gin.Context) {
	if s.quota == nil {
		c.JSON(http.StatusOK, []models.QuotaStatus{})
		return
	}
	statuses, err := s.quota.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
