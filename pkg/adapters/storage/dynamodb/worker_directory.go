package dynamodb

import (
	"context"
	"fmt"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// WorkerItem representa la estructura del ítem de DynamoDB para un Worker.
// La tabla es la de empleados que administra el gestor documental.
type WorkerItem struct {
	ID       string `dynamodbav:"id"`
	Name     string `dynamodbav:"name"`
	Email    string `dynamodbav:"email"`
	Status   string `dynamodbav:"status"`
	LinkDate string `dynamodbav:"linkDate"`
	AreaID   string `dynamodbav:"areaId,omitempty"`
}

type workerDirectory struct {
	client    *dynamodb.Client
	tableName string
}

// NewWorkerDirectory crea una nueva instancia de WorkerDirectory
func NewWorkerDirectory(client *dynamodb.Client, tableName string) ports.WorkerDirectory {
	return &workerDirectory{
		client:    client,
		tableName: tableName,
	}
}

// toDomainWorker convierte un WorkerItem a domain.Worker
func toDomainWorker(item *WorkerItem) (*domain.Worker, error) {
	w := &domain.Worker{
		ID:     item.ID,
		Name:   item.Name,
		Email:  item.Email,
		Status: item.Status,
		AreaID: item.AreaID,
	}
	if item.LinkDate != "" {
		linkDate, err := parseTime(item.LinkDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse LinkDate: %w", err)
		}
		w.LinkDate = linkDate
	}
	return w, nil
}

// FindByID implementa ports.WorkerDirectory.
func (r *workerDirectory) FindByID(ctx context.Context, id string) (*domain.Worker, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, nil // No encontrado
	}

	var item WorkerItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker item: %w", err)
	}
	return toDomainWorker(&item)
}

var _ ports.WorkerDirectory = (*workerDirectory)(nil)
