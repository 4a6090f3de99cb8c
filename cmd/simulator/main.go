package main

import (
	"encoding/json"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
)

type payload struct {
	VehicleID string             `json:"vehicle_id"`
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
}

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	opts := mqtt.NewClientOptions().AddBroker(config.MQTTBroker())
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	level := 60.0
	for i := 0; i < 200; i++ {
		speed := 30 + rand.Float64()*40
		rate := 8 + rand.Float64()*4
		level -= rate * 30.0 / 3600
		if level < 10 {
			level = 60 // simulated refuel
		}

		p := payload{
			VehicleID: "truck-001",
			Timestamp: time.Now(),
			Sensors: map[string]float64{
				"speed_kmh":     speed,
				"fuel_rate_lph": rate,
				"fuel_level_l":  level + rand.Float64()*2 - 1,
				"coolant_temp":  85 + rand.Float64()*5,
				"oil_temp":      95 + rand.Float64()*5,
			},
		}
		data, _ := json.Marshal(p)
		token := client.Publish(config.MQTTTopic(), 0, false, data)
		token.Wait()
		time.Sleep(500 * time.Millisecond)
	}
	log.Info().Msg("simulation done")
}
