package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SignatureItem es la firma electrónica embebida en el ítem del trámite.
type SignatureItem struct {
	ID             string `dynamodbav:"id"`
	SignerWorkerID string `dynamodbav:"signerWorkerId"`
	SignerName     string `dynamodbav:"signerName"`
	SignerEmail    string `dynamodbav:"signerEmail"`
	SignedAt       string `dynamodbav:"signedAt"`
	IPAddress      string `dynamodbav:"ipAddress"`
	UserAgent      string `dynamodbav:"userAgent"`
	Platform       string `dynamodbav:"platform,omitempty"`
	Language       string `dynamodbav:"language,omitempty"`
	AcceptsTerms   bool   `dynamodbav:"acceptsTerms"`
	ChallengeID    string `dynamodbav:"challengeId"`
}

// ResponseItem es la respuesta de conformidad embebida.
type ResponseItem struct {
	Accepts     bool   `dynamodbav:"accepts"`
	Comment     string `dynamodbav:"comment,omitempty"`
	ResponderID string `dynamodbav:"responderId"`
	RespondedAt string `dynamodbav:"respondedAt"`
}

// ProcedureItem representa la estructura del ítem de DynamoDB para un Procedure
type ProcedureItem struct {
	ID                  string         `dynamodbav:"id"`
	Code                string         `dynamodbav:"code"`
	Subject             string         `dynamodbav:"subject"`
	State               string         `dynamodbav:"state"`
	RequiresSignature   bool           `dynamodbav:"requiresSignature"`
	RequiresResponse    bool           `dynamodbav:"requiresResponse"`
	Version             int            `dynamodbav:"version"`
	IsResend            bool           `dynamodbav:"isResend"`
	PreviousVersionID   string         `dynamodbav:"previousVersionId,omitempty"`
	SupersededByID      string         `dynamodbav:"supersededById,omitempty"`
	SupersededByVersion int            `dynamodbav:"supersededByVersion,omitempty"`
	DocumentID          string         `dynamodbav:"documentId"`
	DocumentFileName    string         `dynamodbav:"documentFileName"`
	DocumentContentType string         `dynamodbav:"documentContentType"`
	SenderID            string         `dynamodbav:"senderId"`
	RecipientID         string         `dynamodbav:"recipientId"`
	SentAt              string         `dynamodbav:"sentAt"` // Almacenar la fecha como string ISO 8601
	OpenedAt            string         `dynamodbav:"openedAt,omitempty"`
	ReadAt              string         `dynamodbav:"readAt,omitempty"`
	SignedAt            string         `dynamodbav:"signedAt,omitempty"`
	RespondedAt         string         `dynamodbav:"respondedAt,omitempty"`
	AnnulledAt          string         `dynamodbav:"annulledAt,omitempty"`
	AnnulReason         string         `dynamodbav:"annulReason,omitempty"`
	OpenObservationID   string         `dynamodbav:"openObservationId,omitempty"`
	Signature           *SignatureItem `dynamodbav:"signature,omitempty"`
	Response            *ResponseItem  `dynamodbav:"response,omitempty"`
	Revision            int64          `dynamodbav:"revision"`
}

type procedureRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewProcedureRepository crea una nueva instancia de ProcedureRepository
func NewProcedureRepository(client *dynamodb.Client, tableName string) ports.ProcedureRepository {
	return &procedureRepository{
		client:    client,
		tableName: tableName,
	}
}

// toProcedureItem convierte un domain.Procedure a ProcedureItem
func toProcedureItem(p *domain.Procedure) *ProcedureItem {
	item := &ProcedureItem{
		ID:                  p.ID,
		Code:                p.Code,
		Subject:             p.Subject,
		State:               string(p.State),
		RequiresSignature:   p.RequiresSignature,
		RequiresResponse:    p.RequiresResponse,
		Version:             p.Version,
		IsResend:            p.IsResend,
		PreviousVersionID:   p.PreviousVersionID,
		DocumentID:          p.Document.ID,
		DocumentFileName:    p.Document.FileName,
		DocumentContentType: p.Document.ContentType,
		SenderID:            p.SenderID,
		RecipientID:         p.RecipientID,
		SentAt:              formatTime(p.SentAt),
		OpenedAt:            formatTimePtr(p.OpenedAt),
		ReadAt:              formatTimePtr(p.ReadAt),
		SignedAt:            formatTimePtr(p.SignedAt),
		RespondedAt:         formatTimePtr(p.RespondedAt),
		AnnulledAt:          formatTimePtr(p.AnnulledAt),
		AnnulReason:         p.AnnulReason,
		OpenObservationID:   p.OpenObservationID,
		Revision:            p.Revision,
	}
	if p.SupersededBy != nil {
		item.SupersededByID = p.SupersededBy.ID
		item.SupersededByVersion = p.SupersededBy.Version
	}
	if s := p.Signature; s != nil {
		item.Signature = &SignatureItem{
			ID:             s.ID,
			SignerWorkerID: s.Signer.WorkerID,
			SignerName:     s.Signer.Name,
			SignerEmail:    s.Signer.Email,
			SignedAt:       formatTime(s.SignedAt),
			IPAddress:      s.Environment.IPAddress,
			UserAgent:      s.Environment.UserAgent,
			Platform:       s.Environment.Platform,
			Language:       s.Environment.Language,
			AcceptsTerms:   s.AcceptsTerms,
			ChallengeID:    s.ChallengeID,
		}
	}
	if r := p.Response; r != nil {
		item.Response = &ResponseItem{
			Accepts:     r.Accepts,
			Comment:     r.Comment,
			ResponderID: r.ResponderID,
			RespondedAt: formatTime(r.RespondedAt),
		}
	}
	return item
}

// toDomainProcedure convierte un ProcedureItem a domain.Procedure
func toDomainProcedure(item *ProcedureItem) (*domain.Procedure, error) {
	sentAt, err := parseTime(item.SentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SentAt: %w", err)
	}
	p := &domain.Procedure{
		ID:                item.ID,
		Code:              item.Code,
		Subject:           item.Subject,
		State:             domain.State(item.State),
		RequiresSignature: item.RequiresSignature,
		RequiresResponse:  item.RequiresResponse,
		Version:           item.Version,
		IsResend:          item.IsResend,
		PreviousVersionID: item.PreviousVersionID,
		Document: domain.DocumentRef{
			ID:          item.DocumentID,
			FileName:    item.DocumentFileName,
			ContentType: item.DocumentContentType,
		},
		SenderID:          item.SenderID,
		RecipientID:       item.RecipientID,
		SentAt:            sentAt,
		AnnulReason:       item.AnnulReason,
		OpenObservationID: item.OpenObservationID,
		Revision:          item.Revision,
	}
	if item.SupersededByID != "" {
		p.SupersededBy = &domain.VersionRef{ID: item.SupersededByID, Version: item.SupersededByVersion}
	}
	for _, f := range []struct {
		src string
		dst **time.Time
	}{
		{item.OpenedAt, &p.OpenedAt},
		{item.ReadAt, &p.ReadAt},
		{item.SignedAt, &p.SignedAt},
		{item.RespondedAt, &p.RespondedAt},
		{item.AnnulledAt, &p.AnnulledAt},
	} {
		t, err := parseTimePtr(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = t
	}
	if s := item.Signature; s != nil {
		signedAt, err := parseTime(s.SignedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signature SignedAt: %w", err)
		}
		p.Signature = &domain.ElectronicSignature{
			ID:          s.ID,
			ProcedureID: item.ID,
			Signer: domain.SignerSnapshot{
				WorkerID: s.SignerWorkerID,
				Name:     s.SignerName,
				Email:    s.SignerEmail,
			},
			SignedAt: signedAt,
			Environment: domain.ClientEnvironment{
				IPAddress: s.IPAddress,
				UserAgent: s.UserAgent,
				Platform:  s.Platform,
				Language:  s.Language,
			},
			AcceptsTerms: s.AcceptsTerms,
			ChallengeID:  s.ChallengeID,
		}
	}
	if r := item.Response; r != nil {
		respondedAt, err := parseTime(r.RespondedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse response RespondedAt: %w", err)
		}
		p.Response = &domain.ConformityResponse{
			Accepts:     r.Accepts,
			Comment:     r.Comment,
			ResponderID: r.ResponderID,
			RespondedAt: respondedAt,
		}
	}
	return p, nil
}

// Create implementa ports.ProcedureRepository.
func (r *procedureRepository) Create(ctx context.Context, p *domain.Procedure) error {
	av, err := marshalItem(toProcedureItem(p))
	if err != nil {
		return err
	}
	put, err := newPut(r.tableName, av)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeNames:  put.ExpressionAttributeNames,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return nil
}

// FindByID implementa ports.ProcedureRepository.
func (r *procedureRepository) FindByID(ctx context.Context, id string) (*domain.Procedure, error) {
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

	var item ProcedureItem
	err = attributevalue.UnmarshalMap(result.Item, &item)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal procedure item: %w", err)
	}

	return toDomainProcedure(&item)
}

// Update implementa ports.ProcedureRepository.
func (r *procedureRepository) Update(ctx context.Context, p *domain.Procedure, expectedRevision int64) error {
	av, err := marshalItem(toProcedureItem(p))
	if err != nil {
		return err
	}
	put, err := revisionPut(r.tableName, av, expectedRevision)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeNames:  put.ExpressionAttributeNames,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return domain.ErrRevisionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update item in DynamoDB: %w", err)
	}
	return nil
}

// Supersede implementa ports.ProcedureRepository.
func (r *procedureRepository) Supersede(ctx context.Context, original *domain.Procedure, expectedRevision int64, next *domain.Procedure) error {
	origAV, err := marshalItem(toProcedureItem(original))
	if err != nil {
		return err
	}
	nextAV, err := marshalItem(toProcedureItem(next))
	if err != nil {
		return err
	}
	origPut, err := revisionPut(r.tableName, origAV, expectedRevision)
	if err != nil {
		return err
	}
	nextPut, err := newPut(r.tableName, nextAV)
	if err != nil {
		return err
	}
	return transact(ctx, r.client, origPut, nextPut)
}

// Asegurarse de que procedureRepository implementa ports.ProcedureRepository
var _ ports.ProcedureRepository = (*procedureRepository)(nil)
