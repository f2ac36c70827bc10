package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"cache-service/internal/services"
)

// ResilienceHandler exposes circuit-breaker administration
type ResilienceHandler struct {
	executor *services.ResilienceExecutor
}

// NewResilienceHandler creates a new resilience handler
func NewResilienceHandler(executor *services.ResilienceExecutor) *ResilienceHandler {
	return &ResilienceHandler{executor: executor}
}

// ListBreakers handles GET /resilience/breakers
// @Summary List circuit breakers
// @Description Current state of every known dependency breaker
// @Tags resilience
// @Produce json
// @Success 200 {array} services.BreakerSnapshot "Breaker states"
// @Router /resilience/breakers [get]
func (h *ResilienceHandler) ListBreakers(c *fiber.Ctx) error {
	return c.JSON(h.executor.BreakerSnapshots())
}

// ResetBreaker handles POST /resilience/breakers/:name/reset
// @Summary Force a breaker back to closed
// @Tags resilience
// @Produce json
// @Param name path string true "Dependency name"
// @Success 200 {object} map[string]interface{} "Reset confirmation"
// @Router /resilience/breakers/{name}/reset [post]
func (h *ResilienceHandler) ResetBreaker(c *fiber.Ctx) error {
	name := c.Params("name")
	h.executor.ResetBreaker(name)
	log.Printf("Breaker %s reset by admin request", name)
	return c.JSON(fiber.Map{"success": true, "dependency": name, "state": "closed"})
}

// OpenBreaker handles POST /resilience/breakers/:name/open
// @Summary Force a breaker open for maintenance
// @Tags resilience
// @Produce json
// @Param name path string true "Dependency name"
// @Success 200 {object} map[string]interface{} "Open confirmation"
// @Router /resilience/breakers/{name}/open [post]
func (h *ResilienceHandler) OpenBreaker(c *fiber.Ctx) error {
	name := c.Params("name")
	h.executor.ForceOpenBreaker(name)
	log.Printf("Breaker %s forced open by admin request", name)
	return c.JSON(fiber.Map{"success": true, "dependency": name, "state": "open"})
}

// RegisterFallbacks handles POST /resilience/fallbacks/:name
// @Summary Register or replace fallback services for a dependency
// @Tags resilience
// @Accept json
// @Produce json
// @Param name path string true "Primary dependency name"
// @Param request body FallbackRequest true "Fallback descriptors in priority order"
// @Success 200 {object} map[string]interface{} "Registration confirmation"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Router /resilience/fallbacks/{name} [post]
func (h *ResilienceHandler) RegisterFallbacks(c *fiber.Ctx) error {
	name := c.Params("name")

	var request FallbackRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request format",
		})
	}

	descriptors := make([]services.FallbackDescriptor, 0, len(request.Fallbacks))
	for _, fb := range request.Fallbacks {
		descriptors = append(descriptors, services.FallbackDescriptor{
			Name:     fb.Name,
			Endpoint: fb.Endpoint,
			Priority: fb.Priority,
		})
	}

	h.executor.RegisterFallbacks(name, descriptors...)
	log.Printf("Registered %d fallbacks for %s", len(descriptors), name)

	return c.JSON(fiber.Map{
		"success":    true,
		"dependency": name,
		"registered": len(descriptors),
	})
}

// FallbackRequest is the registration body for fallback descriptors.
type FallbackRequest struct {
	Fallbacks []struct {
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
		Priority int    `json:"priority"`
	} `json:"fallbacks"`
}
