package risk

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the active scoring configuration over HTTP.
type Handler struct {
	configs *ConfigStore
	logger  *slog.Logger
}

// NewHandler creates a config handler.
func NewHandler(configs *ConfigStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{configs: configs, logger: logger}
}

// RegisterRoutes sets up config endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/config", h.GetConfig)
	r.PUT("/config", h.UpdateConfig)
}

// GetConfig returns the active configuration.
// GET /v1/config
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"config": h.configs.Current()})
}

// UpdateConfig merges the JSON body into the active configuration. Fields
// absent from the body keep their current values; the version is assigned
// by the store.
// PUT /v1/config
func (h *Handler) UpdateConfig(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object",
		})
		return
	}

	var syntaxErr error
	cfg, err := h.configs.Update(func(next *Config) error {
		if err := json.Unmarshal(body, next); err != nil {
			syntaxErr = err
			return err
		}
		return nil
	})
	switch {
	case syntaxErr != nil:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": syntaxErr.Error(),
		})
		return
	case errors.Is(err, ErrInvalidConfig):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_config",
			"message": err.Error(),
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update config",
		})
		return
	}

	h.logger.Info("risk config updated",
		"version", cfg.Version,
		"risk_threshold", cfg.RiskThreshold,
		"cooldown_days", cfg.CooldownDays)
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}
