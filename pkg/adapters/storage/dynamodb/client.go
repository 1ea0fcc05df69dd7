package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collie-procedures-backend/pkg/adapters/awsconfig"
	"collie-procedures-backend/pkg/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// NewClient crea el cliente de DynamoDB a partir de la configuración de AWS.
func NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.Load(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// revisionPut arma un Put que solo se aplica si la revisión almacenada es expected.
func revisionPut(table string, item map[string]types.AttributeValue, expected int64) (*types.Put, error) {
	cond := expression.Name("revision").Equal(expression.Value(expected))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	return &types.Put{
		TableName:                 aws.String(table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// newPut arma un Put que falla si el id ya existe.
func newPut(table string, item map[string]types.AttributeValue) (*types.Put, error) {
	expr, err := expression.NewBuilder().WithCondition(expression.AttributeNotExists(expression.Name("id"))).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	return &types.Put{
		TableName:                 aws.String(table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func marshalItem(v any) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	return av, nil
}

// transact ejecuta las escrituras en una transacción. Un fallo de condición
// en la primera (el trámite) se traduce a domain.ErrRevisionConflict.
func transact(ctx context.Context, client *dynamodb.Client, puts ...*types.Put) error {
	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, p := range puts {
		items = append(items, types.TransactWriteItem{Put: p})
	}
	_, err := client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && len(canceled.CancellationReasons) > 0 &&
		aws.ToString(canceled.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
		return domain.ErrRevisionConflict
	}
	return fmt.Errorf("failed to write transaction in DynamoDB: %w", err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
