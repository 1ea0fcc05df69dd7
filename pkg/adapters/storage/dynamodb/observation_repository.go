package dynamodb

import (
	"context"
	"fmt"
	"sort"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ProcedureIndex es el GSI de observaciones por trámite.
const ProcedureIndex = "procedureId-index"

// ObservationItem representa la estructura del ítem de DynamoDB para una Observation
type ObservationItem struct {
	ID          string `dynamodbav:"id"`
	ProcedureID string `dynamodbav:"procedureId"`
	AuthorID    string `dynamodbav:"authorId"`
	Category    string `dynamodbav:"category"`
	Body        string `dynamodbav:"body"`
	Resolved    bool   `dynamodbav:"resolved"`
	Resolution  string `dynamodbav:"resolution,omitempty"`
	ResolverID  string `dynamodbav:"resolverId,omitempty"`
	CreatedAt   string `dynamodbav:"createdAt"`
	ResolvedAt  string `dynamodbav:"resolvedAt,omitempty"`
}

type observationRepository struct {
	client          *dynamodb.Client
	tableName       string
	proceduresTable string
}

// NewObservationRepository crea una nueva instancia de ObservationRepository.
// Las escrituras compuestas tocan también la tabla de trámites.
func NewObservationRepository(client *dynamodb.Client, tableName, proceduresTable string) ports.ObservationRepository {
	return &observationRepository{
		client:          client,
		tableName:       tableName,
		proceduresTable: proceduresTable,
	}
}

func toObservationItem(o *domain.Observation) *ObservationItem {
	return &ObservationItem{
		ID:          o.ID,
		ProcedureID: o.ProcedureID,
		AuthorID:    o.AuthorID,
		Category:    string(o.Category),
		Body:        o.Body,
		Resolved:    o.Resolved,
		Resolution:  o.Resolution,
		ResolverID:  o.ResolverID,
		CreatedAt:   formatTime(o.CreatedAt),
		ResolvedAt:  formatTimePtr(o.ResolvedAt),
	}
}

func toDomainObservation(item *ObservationItem) (*domain.Observation, error) {
	createdAt, err := parseTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CreatedAt: %w", err)
	}
	resolvedAt, err := parseTimePtr(item.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ResolvedAt: %w", err)
	}
	return &domain.Observation{
		ID:          item.ID,
		ProcedureID: item.ProcedureID,
		AuthorID:    item.AuthorID,
		Category:    domain.ObservationCategory(item.Category),
		Body:        item.Body,
		Resolved:    item.Resolved,
		Resolution:  item.Resolution,
		ResolverID:  item.ResolverID,
		CreatedAt:   createdAt,
		ResolvedAt:  resolvedAt,
	}, nil
}

// FindByID implementa ports.ObservationRepository.
func (r *observationRepository) FindByID(ctx context.Context, id string) (*domain.Observation, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, nil // No encontrado
	}

	var item ObservationItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation item: %w", err)
	}
	return toDomainObservation(&item)
}

// ListByProcedure implementa ports.ObservationRepository.
func (r *observationRepository) ListByProcedure(ctx context.Context, procedureID string) ([]domain.Observation, error) {
	keyCond := expression.Key("procedureId").Equal(expression.Value(procedureID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(ProcedureIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var observations []domain.Observation
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB index: %w", err)
		}
		var items []ObservationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal observation items: %w", err)
		}
		for i := range items {
			o, err := toDomainObservation(&items[i])
			if err != nil {
				return nil, fmt.Errorf("failed to convert item to domain observation: %w", err)
			}
			observations = append(observations, *o)
		}
	}
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].CreatedAt.Before(observations[j].CreatedAt)
	})
	return observations, nil
}

// Open implementa ports.ObservationRepository.
func (r *observationRepository) Open(ctx context.Context, o *domain.Observation, p *domain.Procedure, expectedRevision int64) error {
	procPut, err := r.procedurePut(p, expectedRevision)
	if err != nil {
		return err
	}
	obsAV, err := marshalItem(toObservationItem(o))
	if err != nil {
		return err
	}
	obsPut, err := newPut(r.tableName, obsAV)
	if err != nil {
		return err
	}
	return transact(ctx, r.client, procPut, obsPut)
}

// Resolve implementa ports.ObservationRepository.
func (r *observationRepository) Resolve(ctx context.Context, o *domain.Observation, p *domain.Procedure, expectedRevision int64, next *domain.Procedure) error {
	procPut, err := r.procedurePut(p, expectedRevision)
	if err != nil {
		return err
	}
	obsAV, err := marshalItem(toObservationItem(o))
	if err != nil {
		return err
	}
	obsPut := &types.Put{
		TableName: aws.String(r.tableName),
		Item:      obsAV,
	}
	puts := []*types.Put{procPut, obsPut}
	if next != nil {
		nextAV, err := marshalItem(toProcedureItem(next))
		if err != nil {
			return err
		}
		nextPut, err := newPut(r.proceduresTable, nextAV)
		if err != nil {
			return err
		}
		puts = append(puts, nextPut)
	}
	return transact(ctx, r.client, puts...)
}

func (r *observationRepository) procedurePut(p *domain.Procedure, expectedRevision int64) (*types.Put, error) {
	av, err := marshalItem(toProcedureItem(p))
	if err != nil {
		return nil, err
	}
	return revisionPut(r.proceduresTable, av, expectedRevision)
}

var _ ports.ObservationRepository = (*observationRepository)(nil)
