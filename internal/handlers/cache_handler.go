package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"cache-service/internal/services"
)

// CacheHandler handles cache-related HTTP endpoints
type CacheHandler struct {
	orchestrator *services.Orchestrator
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(orchestrator *services.Orchestrator) *CacheHandler {
	return &CacheHandler{orchestrator: orchestrator}
}

// GetCacheStats handles GET /cache/stats to retrieve per-tier statistics
// @Summary Get cache statistics
// @Description Get per-tier object counts, sizes and hit rates
// @Tags cache
// @Produce json
// @Success 200 {object} map[string]interface{} "Cache statistics"
// @Router /cache/stats [get]
func (h *CacheHandler) GetCacheStats(c *fiber.Ctx) error {
	return c.JSON(h.orchestrator.Stats(c.Context()))
}

// InvalidatePattern handles DELETE /cache/pattern/:prefix
// @Summary Invalidate cached entries by key prefix
// @Description Remove all matching keys from the fast tiers. The durable tier is not scanned and contributes zero.
// @Tags cache
// @Produce json
// @Param prefix path string true "Key prefix"
// @Success 200 {object} map[string]interface{} "Invalidation result"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Router /cache/pattern/{prefix} [delete]
func (h *CacheHandler) InvalidatePattern(c *fiber.Ctx) error {
	prefix := c.Params("prefix")

	removed, err := h.orchestrator.InvalidatePattern(prefix)
	if err != nil {
		log.Printf("Pattern invalidation failed for %q: %v", prefix, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"removed": removed,
	})
}

// ClearCache handles POST /cache/clear to clear all tiers
// @Summary Clear entire cache
// @Description Remove all entries from every tier
// @Tags cache
// @Produce json
// @Success 200 {object} map[string]interface{} "Cache cleared"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /cache/clear [post]
func (h *CacheHandler) ClearCache(c *fiber.Ctx) error {
	if err := h.orchestrator.Clear(c.Context()); err != nil {
		log.Printf("Error clearing cache: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to clear cache",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cache cleared successfully",
	})
}
