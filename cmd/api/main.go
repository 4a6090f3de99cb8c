package main

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/cloud"
	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/database"
	httpHandlers "github.com/ruiztomas88/fuel-copilot/internal/http"
	"github.com/ruiztomas88/fuel-copilot/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	repos := repository.New(db)

	var dyn *cloud.DynamoDBClient
	if config.UseCloudServices() {
		dyn, err = cloud.NewDynamoDBClient(context.Background(), config.AWSRegion(), config.DynamoTable())
		if err != nil {
			log.Warn().Err(err).Msg("dynamo client init failed, current-risk reads fall back to postgres")
			dyn = nil
		}
	}

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	httpHandlers.Register(app, repos, dyn)

	addr := config.APIAddr()
	log.Info().Str("addr", addr).Msg("api listening")
	log.Fatal().Err(app.Listen(addr)).Msg("server exit")
}
