package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// DynamoDBClient mirrors the latest per-vehicle risk snapshot for the
// serverless dashboard readers. Postgres keeps the full append-only
// history; this table holds only the current row per vehicle.
type DynamoDBClient struct {
	svc   *dynamodb.Client
	table string
}

func NewDynamoDBClient(ctx context.Context, region, table string) (*DynamoDBClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &DynamoDBClient{
		svc:   dynamodb.NewFromConfig(cfg),
		table: table,
	}, nil
}

type riskItem struct {
	VehicleID      string  `dynamodbav:"vehicleId"`
	RiskScore      float64 `dynamodbav:"riskScore"`
	RiskLevel      string  `dynamodbav:"riskLevel"`
	WeightsVersion string  `dynamodbav:"weightsVersion"`
	Timestamp      int64   `dynamodbav:"timestamp"`
}

func newRiskItem(snap domain.RiskScoreSnapshot) riskItem {
	return riskItem{
		VehicleID:      snap.VehicleID,
		RiskScore:      snap.RiskScore,
		RiskLevel:      string(snap.RiskLevel),
		WeightsVersion: snap.WeightsVersion,
		Timestamp:      snap.Timestamp.Unix(),
	}
}

func (i riskItem) snapshot() domain.RiskScoreSnapshot {
	return domain.RiskScoreSnapshot{
		VehicleID:      i.VehicleID,
		RiskScore:      i.RiskScore,
		RiskLevel:      domain.RiskLevel(i.RiskLevel),
		WeightsVersion: i.WeightsVersion,
		Timestamp:      time.Unix(i.Timestamp, 0).UTC(),
	}
}

// PutRiskSnapshot upserts the vehicle's current snapshot, keyed by vehicle.
func (c *DynamoDBClient) PutRiskSnapshot(ctx context.Context, snap domain.RiskScoreSnapshot) error {
	item, err := attributevalue.MarshalMap(newRiskItem(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal risk snapshot: %w", err)
	}

	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return nil
}

// GetRiskSnapshot reads the current snapshot for one vehicle.
func (c *DynamoDBClient) GetRiskSnapshot(ctx context.Context, vehicleID string) (*domain.RiskScoreSnapshot, error) {
	result, err := c.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key: map[string]types.AttributeValue{
			"vehicleId": &types.AttributeValueMemberS{Value: vehicleID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item riskItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk snapshot: %w", err)
	}
	snap := item.snapshot()
	return &snap, nil
}
