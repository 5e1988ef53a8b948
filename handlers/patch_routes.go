// handlers/patch_routes.go
package handlers

import (
	"strconv"

	"github.com/cdermott7/onlygrass/middleware"
	"github.com/cdermott7/onlygrass/models"
	"github.com/cdermott7/onlygrass/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPatchRoutes(app *fiber.App, discovery services.LocationDiscovery) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/patches/nearby", func(c *fiber.Ctx) error {
		lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
		if latErr != nil || lngErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "lat and lng query params are required",
			})
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "lat/lng out of range",
			})
		}

		radius, _ := strconv.Atoi(c.Query("radius", "2000"))
		if radius < 100 {
			radius = 100
		}
		if radius > 10000 {
			radius = 10000
		}

		patches, err := discovery.FindNearby(c.Context(), models.Coordinate{Latitude: lat, Longitude: lng}, radius)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "patch discovery failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"patches": patches,
			"count":   len(patches),
		})
	})
}
