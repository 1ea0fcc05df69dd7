package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/google/uuid"
)

type documentService struct {
	fileStorage ports.FileStorage
	repo        ports.DocumentRepository
	life        *lifecycle
}

// RegisterUpload implementa ports.DocumentService. Guarda el documento y
// devuelve la URL prefirmada donde el remitente sube el archivo.
func (s *documentService) RegisterUpload(ctx context.Context, actor domain.Actor, fileName, contentType string) (*ports.UploadTicket, error) {
	if actor.ID == "" {
		return nil, domain.NewError(domain.KindForbidden, "an authenticated worker is required to upload documents")
	}
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, domain.NewError(domain.KindValidation, "fileName is required")
	}
	if contentType == "" {
		contentType = domain.ContentTypePDF
	}
	doc := &domain.Document{
		ID:          uuid.New().String(),
		FileName:    fileName,
		ContentType: contentType,
		UploadDate:  s.life.now(),
		OwnerID:     actor.ID,
	}
	doc.S3Key = fmt.Sprintf("documents/%s/%s", doc.ID, doc.FileName)

	url, err := s.fileStorage.GeneratePresignedUploadURL(ctx, doc.S3Key, doc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	return &ports.UploadTicket{Document: doc, UploadURL: url}, nil
}

// NewDocumentService crea una nueva instancia de DocumentService
func NewDocumentService(fs ports.FileStorage, repo ports.DocumentRepository, procedures ports.ProcedureRepository, opts ...Option) ports.DocumentService {
	return &documentService{
		fileStorage: fs,
		repo:        repo,
		life:        newLifecycle(procedures, buildOptions(opts)),
	}
}

// OpenContent implementa ports.DocumentService. Es una lectura: se permite
// también sobre versiones obsoletas.
func (s *documentService) OpenContent(ctx context.Context, actor domain.Actor, procedureID string) (io.ReadCloser, domain.DocumentRef, error) {
	doc, err := s.documentFor(ctx, actor, procedureID)
	if err != nil {
		return nil, domain.DocumentRef{}, err
	}
	rc, err := s.fileStorage.Open(ctx, doc.S3Key)
	if err != nil {
		return nil, domain.DocumentRef{}, fmt.Errorf("failed to open document content: %w", err)
	}
	return rc, doc.Ref(), nil
}

// DownloadURL implementa ports.DocumentService.
func (s *documentService) DownloadURL(ctx context.Context, actor domain.Actor, procedureID string) (string, error) {
	doc, err := s.documentFor(ctx, actor, procedureID)
	if err != nil {
		return "", err
	}
	url, err := s.fileStorage.GeneratePresignedDownloadURL(ctx, doc.S3Key, doc.FileName)
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return url, nil
}

func (s *documentService) documentFor(ctx context.Context, actor domain.Actor, procedureID string) (*domain.Document, error) {
	p, err := s.life.load(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(p, actor); err != nil {
		return nil, err
	}
	doc, err := s.repo.FindByID(ctx, p.Document.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find document by ID: %w", err)
	}
	if doc == nil {
		return nil, domain.NewError(domain.KindNotFound, "document %s not found", p.Document.ID)
	}
	return doc, nil
}

// Asegurarse de que documentService implementa ports.DocumentService
var _ ports.DocumentService = (*documentService)(nil)
