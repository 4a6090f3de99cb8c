package ingest

import (
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// MQTTSource subscribes to the fleet telemetry topic and buffers samples
// until the scheduler drains them at the next cycle. Missing sensors and
// absent messages look the same downstream: no sample.
type MQTTSource struct {
	client mqtt.Client

	mu  sync.Mutex
	buf []domain.TelemetrySample
}

type telemetryPayload struct {
	VehicleID string             `json:"vehicle_id"`
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
}

func NewMQTTSource(broker, topic string) (*MQTTSource, error) {
	src := &MQTTSource{}

	opts := mqtt.NewClientOptions().AddBroker(broker)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	src.client = client

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		src.ingest(msg.Payload())
	}
	if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, token.Error()
	}

	log.Info().Str("broker", broker).Str("topic", topic).Msg("telemetry source subscribed")
	return src, nil
}

func (s *MQTTSource) ingest(payload []byte) {
	var p telemetryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Msg("bad telemetry payload dropped")
		return
	}
	if p.VehicleID == "" || p.Timestamp.IsZero() {
		log.Debug().Msg("telemetry payload missing identity, dropped")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range p.Sensors {
		s.buf = append(s.buf, domain.TelemetrySample{
			VehicleID:  p.VehicleID,
			SensorName: name,
			Value:      value,
			Timestamp:  p.Timestamp,
		})
	}
}

// Drain returns everything buffered since the previous drain.
func (s *MQTTSource) Drain() []domain.TelemetrySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}

func (s *MQTTSource) Close() {
	s.client.Disconnect(250)
}
