package ports

import (
	"context"
	"io"
	"time"

	"collie-procedures-backend/pkg/domain"
)

// Primary Port (Interfaces para el servicio de aplicación)

// DispatchRequest son los datos con los que un remitente envía un documento.
type DispatchRequest struct {
	Code              string `json:"code,omitempty"`
	Subject           string `json:"subject"`
	DocumentID        string `json:"documentId"`
	RecipientID       string `json:"recipientId"`
	RequiresSignature bool   `json:"requiresSignature"`
	RequiresResponse  bool   `json:"requiresResponse"`
}

type ProcedureService interface {
	Dispatch(ctx context.Context, actor domain.Actor, req DispatchRequest) (*domain.Procedure, error)
	FetchProcedure(ctx context.Context, actor domain.Actor, id string) (*domain.Procedure, error)
	OpenProcedure(ctx context.Context, actor domain.Actor, id string) (*domain.Procedure, error)
	MarkProcedureRead(ctx context.Context, actor domain.Actor, id string) (*domain.Procedure, error)
	RespondProcedure(ctx context.Context, actor domain.Actor, id string, accepts bool, comment string) (*domain.Procedure, error)
	AnnulProcedure(ctx context.Context, actor domain.Actor, id, reason string) (*domain.Procedure, error)
	ResendProcedure(ctx context.Context, actor domain.Actor, id string, payload domain.ResendPayload) (*domain.Procedure, error)
}

// SignatureResult es la respuesta de una verificación exitosa.
type SignatureResult struct {
	Signature *domain.ElectronicSignature `json:"signature"`
	Procedure *domain.Procedure           `json:"procedure"`
}

type SignatureService interface {
	RequestCode(ctx context.Context, actor domain.Actor, procedureID string) (*domain.ChallengeTicket, error)
	VerifyAndSign(ctx context.Context, actor domain.Actor, procedureID, code string, acceptsTerms bool, env domain.ClientEnvironment) (*SignatureResult, error)
}

type ObservationService interface {
	Create(ctx context.Context, actor domain.Actor, procedureID string, category domain.ObservationCategory, body string) (*domain.Observation, error)
	Resolve(ctx context.Context, actor domain.Actor, observationID, resolution string, resend *domain.ResendPayload) (*domain.Observation, error)
	List(ctx context.Context, actor domain.Actor, procedureID string) ([]domain.Observation, error)
	HasUnresolvedObservation(ctx context.Context, procedureID string) (bool, error)
}

// UploadTicket es el documento registrado y la URL prefirmada para subirlo.
type UploadTicket struct {
	Document  *domain.Document `json:"document"`
	UploadURL string           `json:"uploadUrl"`
}

type DocumentService interface {
	RegisterUpload(ctx context.Context, actor domain.Actor, fileName, contentType string) (*UploadTicket, error)
	OpenContent(ctx context.Context, actor domain.Actor, procedureID string) (io.ReadCloser, domain.DocumentRef, error)
	DownloadURL(ctx context.Context, actor domain.Actor, procedureID string) (string, error)
}

// Authority es el contrato que consumen el visor y el flujo de firma. Lo
// implementan el cliente HTTP y services.NewLocalAuthority.
type Authority interface {
	FetchProcedure(ctx context.Context, id string) (*domain.Procedure, error)
	OpenProcedure(ctx context.Context, id string) (*domain.Procedure, error)
	MarkProcedureRead(ctx context.Context, id string) (*domain.Procedure, error)
	RespondProcedure(ctx context.Context, id string, accepts bool, comment string) (*domain.Procedure, error)
	AnnulProcedure(ctx context.Context, id, reason string) (*domain.Procedure, error)
	ResendProcedure(ctx context.Context, id string, payload domain.ResendPayload) (*domain.Procedure, error)
	RequestSignatureCode(ctx context.Context, procedureID string) (*domain.ChallengeTicket, error)
	VerifySignatureCode(ctx context.Context, procedureID, code string, acceptsTerms bool, env domain.ClientEnvironment) (*SignatureResult, error)
	CreateObservation(ctx context.Context, procedureID string, category domain.ObservationCategory, body string) (*domain.Observation, error)
	ResolveObservation(ctx context.Context, observationID, resolution string, resend *domain.ResendPayload) (*domain.Observation, error)
	ListObservations(ctx context.Context, procedureID string) ([]domain.Observation, error)
	// HasUnresolvedObservation decide si el visor ofrece crear una observación.
	HasUnresolvedObservation(ctx context.Context, procedureID string) (bool, error)
	FetchDocumentContent(ctx context.Context, procedureID string) (io.ReadCloser, error)
	FetchDocumentDownloadURL(ctx context.Context, procedureID string) (string, error)
}

// Secondary Port (Interfaces para adaptadores de infraestructura)

// ProcedureRepository persiste trámites con control optimista por Revision.
// FindByID devuelve nil, nil si no existe.
type ProcedureRepository interface {
	Create(ctx context.Context, p *domain.Procedure) error
	FindByID(ctx context.Context, id string) (*domain.Procedure, error)
	// Update escribe p solo si la revisión almacenada es expectedRevision;
	// si no, devuelve domain.ErrRevisionConflict.
	Update(ctx context.Context, p *domain.Procedure, expectedRevision int64) error
	// Supersede actualiza el original y crea el reenvío en una sola escritura atómica.
	Supersede(ctx context.Context, original *domain.Procedure, expectedRevision int64, next *domain.Procedure) error
}

type ObservationRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Observation, error)
	ListByProcedure(ctx context.Context, procedureID string) ([]domain.Observation, error)
	// Open crea la observación y actualiza el trámite atómicamente.
	Open(ctx context.Context, o *domain.Observation, p *domain.Procedure, expectedRevision int64) error
	// Resolve actualiza la observación y el trámite, y crea next si no es nil,
	// todo o nada.
	Resolve(ctx context.Context, o *domain.Observation, p *domain.Procedure, expectedRevision int64, next *domain.Procedure) error
}

type DocumentRepository interface {
	Save(ctx context.Context, doc *domain.Document) error
	FindByID(ctx context.Context, id string) (*domain.Document, error)
}

type WorkerDirectory interface {
	FindByID(ctx context.Context, id string) (*domain.Worker, error)
}

type FileStorage interface {
	GeneratePresignedUploadURL(ctx context.Context, key, contentType string) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, key, fileName string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ChallengeStore guarda a lo sumo un desafío vigente por trámite.
type ChallengeStore interface {
	// Save reemplaza cualquier desafío anterior del mismo trámite.
	Save(ctx context.Context, ch *domain.VerificationChallenge) error
	// Active devuelve el desafío del trámite o nil, nil si no hay.
	Active(ctx context.Context, procedureID string) (*domain.VerificationChallenge, error)
	// Consume elimina el desafío solo si sigue siendo challengeID.
	Consume(ctx context.Context, procedureID, challengeID string) (bool, error)
}

// AttemptLimiter cuenta verificaciones fallidas y bloquea el trámite.
type AttemptLimiter interface {
	// LockedUntil devuelve el fin del bloqueo o el valor cero.
	LockedUntil(ctx context.Context, procedureID string) (time.Time, error)
	RegisterFailure(ctx context.Context, procedureID string) (remaining int, lockedUntil time.Time, err error)
	Reset(ctx context.Context, procedureID string) error
}

type CodeSender interface {
	SendSignatureCode(ctx context.Context, destination, code string, expiresAt time.Time) error
}

type Notifier interface {
	ObservationCreated(ctx context.Context, p *domain.Procedure, o *domain.Observation) error
}
