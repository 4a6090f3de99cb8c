package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/cloud"
	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/database"
	"github.com/ruiztomas88/fuel-copilot/internal/ingest"
	"github.com/ruiztomas88/fuel-copilot/internal/repository"
	"github.com/ruiztomas88/fuel-copilot/internal/scheduler"
	"github.com/ruiztomas88/fuel-copilot/internal/sink"
	"github.com/ruiztomas88/fuel-copilot/internal/state"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	th := config.DefaultThresholds()
	if err := th.Validate(); err != nil {
		log.Fatal().Err(err).Msg("threshold config invalid")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()
	repos := repository.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fan := &sink.Fanout{}

	mirror, err := state.NewMirror(ctx, config.RedisAddr())
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, live-state mirror disabled")
	} else {
		defer mirror.Close()
		fan.Mirror = mirror
	}

	var s3Client *cloud.S3Client
	if config.UseCloudServices() {
		if fan.SNS, err = cloud.NewSNSClient(ctx, config.AWSRegion(), config.SNSTopicArn()); err != nil {
			log.Warn().Err(err).Msg("sns client init failed, alerts disabled")
		}
		if fan.Dynamo, err = cloud.NewDynamoDBClient(ctx, config.AWSRegion(), config.DynamoTable()); err != nil {
			log.Warn().Err(err).Msg("dynamo client init failed, mirror disabled")
		}
		if s3Client, err = cloud.NewS3Client(ctx, config.AWSRegion(), config.S3Bucket()); err != nil {
			log.Warn().Err(err).Msg("s3 client init failed, report export disabled")
		}
	}

	source, err := ingest.NewMQTTSource(config.MQTTBroker(), config.MQTTTopic())
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect failed")
	}
	defer source.Close()

	proc := scheduler.NewProcessor(th, repos, fan, config.DBCallTimeout())
	sched := scheduler.New(proc, source,
		config.CycleInterval(), config.FlushInterval(), config.RiskInterval(),
		config.WorkerPoolSize())

	vehicles, err := repos.ListVehicles(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("vehicle list load failed")
	}
	fleetByVehicle := make(map[string]string, len(vehicles))
	for _, v := range vehicles {
		st, err := proc.LoadVehicleState(ctx, v, nil)
		if err != nil {
			log.Error().Err(err).Str("vehicle", v.ID).Msg("state load failed, vehicle skipped")
			continue
		}
		sched.Register(st)
		fleetByVehicle[v.ID] = v.FleetID
	}
	fan.FleetOf = func(vehicleID string) string { return fleetByVehicle[vehicleID] }

	if s3Client != nil {
		go exportDailyReports(ctx, repos, s3Client)
	}

	log.Info().Int("vehicles", len(vehicles)).Msg("fuel monitor starting")
	sched.Run(ctx)
	log.Info().Msg("fuel monitor stopped")
}

// exportDailyReports pushes the latest risk snapshots to S3 once a day.
func exportDailyReports(ctx context.Context, repos *repository.Repos, s3Client *cloud.S3Client) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snaps, err := repos.LatestRiskSnapshots(ctx)
			if err != nil {
				log.Error().Err(err).Msg("report query failed")
				continue
			}
			url, err := s3Client.UploadRiskReport(ctx, snaps, now)
			if err != nil {
				log.Error().Err(err).Msg("report export failed")
				continue
			}
			log.Info().Str("url", url).Msg("daily risk report exported")
		}
	}
}
