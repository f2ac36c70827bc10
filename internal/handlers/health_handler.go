package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"cache-service/internal/services"
)

// HealthHandler exposes storage-health state and cleanup controls
type HealthHandler struct {
	monitor *services.HealthMonitor
	cleanup services.CleanupCoordinator
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(monitor *services.HealthMonitor, cleanup services.CleanupCoordinator) *HealthHandler {
	return &HealthHandler{monitor: monitor, cleanup: cleanup}
}

// GetHealth handles GET /cache/health
// @Summary Get storage health status
// @Description Current per-tier usage, quota and overall severity
// @Tags health
// @Produce json
// @Success 200 {object} services.HealthStatus "Health status"
// @Router /cache/health [get]
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	return c.JSON(h.monitor.Status())
}

// GetWarnings handles GET /cache/health/warnings
// @Summary Get recent capacity warnings
// @Description Bounded recent-warning history, most recent last
// @Tags health
// @Produce json
// @Success 200 {array} services.Warning "Recent warnings"
// @Router /cache/health/warnings [get]
func (h *HealthHandler) GetWarnings(c *fiber.Ctx) error {
	return c.JSON(h.monitor.Warnings())
}

// CheckNow handles POST /cache/health/check to force an immediate pass
// @Summary Run a health check immediately
// @Tags health
// @Produce json
// @Success 200 {object} services.HealthStatus "Health status"
// @Router /cache/health/check [post]
func (h *HealthHandler) CheckNow(c *fiber.Ctx) error {
	return c.JSON(h.monitor.CheckNow())
}

// TriggerCleanup handles POST /cache/cleanup
// @Summary Force a cleanup pass
// @Description Evict least recently used entries from one tier, or all tiers when none is given
// @Tags health
// @Accept json
// @Produce json
// @Param request body CleanupRequest false "Optional tier"
// @Success 200 {object} map[string]interface{} "Cleanup result"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /cache/cleanup [post]
func (h *HealthHandler) TriggerCleanup(c *fiber.Ctx) error {
	var request CleanupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request format",
			})
		}
	}

	removed, err := h.cleanup.ForceCleanup(request.Tier)
	if err != nil {
		log.Printf("Forced cleanup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Cleanup failed",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"removed": removed,
	})
}

// CleanupRequest optionally names the tier to clean.
type CleanupRequest struct {
	Tier string `json:"tier"`
}
