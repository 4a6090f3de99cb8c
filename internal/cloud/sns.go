package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// SNSClient publishes fleet alerts to an SNS topic. Delivery past the topic
// (SMS, email fan-out) is someone else's problem.
type SNSClient struct {
	svc      *sns.Client
	topicArn string
}

func NewSNSClient(ctx context.Context, region, topicArn string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &SNSClient{
		svc:      sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func (c *SNSClient) publish(ctx context.Context, subject, message string) error {
	if c.topicArn == "" {
		return nil
	}
	_, err := c.svc.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// SendAnomalyAlert publishes a CRITICAL sensor anomaly.
func (c *SNSClient) SendAnomalyAlert(ctx context.Context, ev domain.AnomalyEvent) error {
	subject := fmt.Sprintf("[%s] Fleet Anomaly - %s", ev.Severity, ev.VehicleID)
	message := fmt.Sprintf(
		"Anomaly Detected\n\nVehicle: %s\nSensor: %s\nType: %s\nValue: %.2f\nZ-Score: %.2f\nTime: %s\n",
		ev.VehicleID, ev.SensorName, ev.AnomalyType, ev.SensorValue, ev.ZScore,
		ev.DetectedAt.Format("2006-01-02 15:04:05 MST"))
	return c.publish(ctx, subject, message)
}

// SendTheftAlert publishes a confirmed-confidence theft event.
func (c *SNSClient) SendTheftAlert(ctx context.Context, ev domain.FuelEvent) error {
	subject := fmt.Sprintf("Fuel Theft Suspected - %s", ev.VehicleID)
	message := fmt.Sprintf(
		"Fuel Theft Suspected\n\nVehicle: %s\nEstimated loss: %.1f L\nLevel: %.1f L -> %.1f L\nConfidence: %.0f%%\nTime: %s\n",
		ev.VehicleID, ev.DeltaL, ev.BeforeLevel, ev.AfterLevel, ev.Confidence*100,
		ev.DetectedAt.Format("2006-01-02 15:04:05 MST"))
	return c.publish(ctx, subject, message)
}
