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

// DocumentItem representa la estructura del ítem de DynamoDB para un Document
type DocumentItem struct {
	ID          string `dynamodbav:"id"`
	FileName    string `dynamodbav:"fileName"`
	S3Key       string `dynamodbav:"s3Key"`
	ContentType string `dynamodbav:"contentType"`
	UploadDate  string `dynamodbav:"uploadDate"` // Almacenar la fecha como string ISO 8601
	OwnerID     string `dynamodbav:"ownerId"`
}

type documentRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewDocumentRepository crea una nueva instancia de DocumentRepository
func NewDocumentRepository(client *dynamodb.Client, tableName string) ports.DocumentRepository {
	return &documentRepository{
		client:    client,
		tableName: tableName,
	}
}

// toDocumentItem convierte un domain.Document a DocumentItem
func toDocumentItem(doc *domain.Document) *DocumentItem {
	return &DocumentItem{
		ID:          doc.ID,
		FileName:    doc.FileName,
		S3Key:       doc.S3Key,
		ContentType: doc.ContentType,
		UploadDate:  formatTime(doc.UploadDate),
		OwnerID:     doc.OwnerID,
	}
}

// toDomainDocument convierte un DocumentItem a domain.Document
func toDomainDocument(item *DocumentItem) (*domain.Document, error) {
	uploadDate, err := parseTime(item.UploadDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse UploadDate: %w", err)
	}
	contentType := item.ContentType
	if contentType == "" {
		contentType = domain.ContentTypePDF
	}
	return &domain.Document{
		ID:          item.ID,
		FileName:    item.FileName,
		S3Key:       item.S3Key,
		ContentType: contentType,
		UploadDate:  uploadDate,
		OwnerID:     item.OwnerID,
	}, nil
}

// Save implementa ports.DocumentRepository.
func (r *documentRepository) Save(ctx context.Context, doc *domain.Document) error {
	av, err := attributevalue.MarshalMap(toDocumentItem(doc))
	if err != nil {
		return fmt.Errorf("failed to marshal document item: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return nil
}

// FindByID implementa ports.DocumentRepository.
func (r *documentRepository) FindByID(ctx context.Context, id string) (*domain.Document, error) {
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

	var item DocumentItem
	err = attributevalue.UnmarshalMap(result.Item, &item)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal document item: %w", err)
	}

	return toDomainDocument(&item)
}

// Asegurarse de que documentRepository implementa ports.DocumentRepository
var _ ports.DocumentRepository = (*documentRepository)(nil)
