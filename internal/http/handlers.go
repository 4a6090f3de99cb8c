package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/cloud"
	"github.com/ruiztomas88/fuel-copilot/internal/repository"
)

// Register mounts the read-only result surface. All writes happen in the
// monitor daemon; this API only renders what the pipeline persisted. dyn is
// optional: when the cloud mirror is enabled, the current-risk endpoint
// reads from it instead of Postgres.
func Register(app *fiber.App, repos *repository.Repos, dyn *cloud.DynamoDBClient) {
	g := app.Group("/")

	g.Get("vehicles", func(c *fiber.Ctx) error {
		items, err := repos.ListVehicles(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})

	g.Get("risk", func(c *fiber.Ctx) error {
		items, err := repos.LatestRiskSnapshots(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})

	g.Get("risk/:vehicle/current", func(c *fiber.Ctx) error {
		if dyn != nil {
			snap, err := dyn.GetRiskSnapshot(c.Context(), c.Params("vehicle"))
			if err != nil {
				log.Warn().Err(err).Msg("dynamo read failed, falling back to postgres")
			} else if snap != nil {
				return c.JSON(snap)
			}
		}
		items, err := repos.RiskHistory(c.Context(), c.Params("vehicle"), 1)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if len(items) == 0 {
			return c.Status(404).JSON(fiber.Map{"error": "no risk snapshot for vehicle"})
		}
		return c.JSON(items[0])
	})

	g.Get("risk/:vehicle", func(c *fiber.Ctx) error {
		items, err := repos.RiskHistory(c.Context(), c.Params("vehicle"), c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})

	g.Get("anomalies", func(c *fiber.Ctx) error {
		items, err := repos.OpenAnomalies(c.Context(), c.QueryInt("limit", 100))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})

	g.Get("fuel-events/:vehicle", func(c *fiber.Ctx) error {
		items, err := repos.RecentFuelEvents(c.Context(), c.Params("vehicle"), c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})
}
