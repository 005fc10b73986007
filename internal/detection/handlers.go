package detection

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskwatch/internal/pagination"
)

// Handler exposes job triggering and risk lookups over HTTP.
type Handler struct {
	runner            *Runner
	defaultWindowDays int
}

// NewHandler creates a detection handler. defaultWindowDays applies when a
// feature job request names no window.
func NewHandler(runner *Runner, defaultWindowDays int) *Handler {
	return &Handler{runner: runner, defaultWindowDays: defaultWindowDays}
}

// RegisterRoutes sets up job and risk endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	jobs := r.Group("/jobs")
	jobs.POST("/features", h.RunFeatures)
	jobs.POST("/detection", h.RunDetection)
	jobs.GET("/history", h.History)
	jobs.GET("/state", h.State)

	r.GET("/accounts/:id/risk", h.AccountRisk)
	r.GET("/users/:id/risk", h.UserRisk)
	r.GET("/flagged", h.ListFlagged)
}

// RunFeatures handles POST /v1/jobs/features
func (h *Handler) RunFeatures(c *gin.Context) {
	var req struct {
		WindowDays int `json:"window_days" binding:"omitempty,min=1,max=365"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "window_days must be between 1 and 365"})
			return
		}
	}
	if req.WindowDays == 0 {
		req.WindowDays = h.defaultWindowDays
	}

	res, err := h.runner.RunFeatureJob(c.Request.Context(), req.WindowDays)
	h.respondJob(c, res, err)
}

// RunDetection handles POST /v1/jobs/detection
func (h *Handler) RunDetection(c *gin.Context) {
	var req struct {
		SkipCooldown bool `json:"skip_cooldown"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
			return
		}
	}

	res, err := h.runner.RunDetection(c.Request.Context(), req.SkipCooldown)
	h.respondJob(c, res, err)
}

func (h *Handler) respondJob(c *gin.Context, res *JobResult, err error) {
	switch {
	case errors.Is(err, ErrJobCancelled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job_cancelled", "message": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	status := http.StatusOK
	if res.Status == StatusFailed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"job": res})
}

// History handles GET /v1/jobs/history
func (h *Handler) History(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), 20, 200)
	jobs, next, err := h.runner.History(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list job history"})
		return
	}

	resp := gin.H{"jobs": jobs, "count": len(jobs)}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// State handles GET /v1/jobs/state
func (h *Handler) State(c *gin.Context) {
	resp := gin.H{"state": h.runner.State()}
	if last := h.runner.LastResult(); last != nil {
		resp["last_job"] = last
	}
	c.JSON(http.StatusOK, resp)
}

// AccountRisk handles GET /v1/accounts/:id/risk
func (h *Handler) AccountRisk(c *gin.Context) {
	a, err := h.runner.AssessAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No computed facts for this account"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to assess account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// UserRisk handles GET /v1/users/:id/risk
func (h *Handler) UserRisk(c *gin.Context) {
	ua, err := h.runner.AssessUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to assess user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": ua})
}

// ListFlagged handles GET /v1/flagged
func (h *Handler) ListFlagged(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), 50, 200)
	flagged, next, err := h.runner.ListFlagged(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list flagged accounts"})
		return
	}

	resp := gin.H{"flagged": flagged, "count": len(flagged)}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
