package services

import (
	"context"
	"io"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

// LocalAuthority expone los servicios como ports.Authority para un actor
// fijo, sin pasar por HTTP.
type LocalAuthority struct {
	actor        domain.Actor
	procedures   ports.ProcedureService
	signatures   ports.SignatureService
	observations ports.ObservationService
	documents    ports.DocumentService
}

// NewLocalAuthority crea una autoridad en proceso que actúa como actor.
func NewLocalAuthority(actor domain.Actor, procedures ports.ProcedureService, signatures ports.SignatureService, observations ports.ObservationService, documents ports.DocumentService) *LocalAuthority {
	return &LocalAuthority{
		actor:        actor,
		procedures:   procedures,
		signatures:   signatures,
		observations: observations,
		documents:    documents,
	}
}

func (a *LocalAuthority) FetchProcedure(ctx context.Context, id string) (*domain.Procedure, error) {
	return a.procedures.FetchProcedure(ctx, a.actor, id)
}

func (a *LocalAuthority) OpenProcedure(ctx context.Context, id string) (*domain.Procedure, error) {
	return a.procedures.OpenProcedure(ctx, a.actor, id)
}

func (a *LocalAuthority) MarkProcedureRead(ctx context.Context, id string) (*domain.Procedure, error) {
	return a.procedures.MarkProcedureRead(ctx, a.actor, id)
}

func (a *LocalAuthority) RespondProcedure(ctx context.Context, id string, accepts bool, comment string) (*domain.Procedure, error) {
	return a.procedures.RespondProcedure(ctx, a.actor, id, accepts, comment)
}

func (a *LocalAuthority) AnnulProcedure(ctx context.Context, id, reason string) (*domain.Procedure, error) {
	return a.procedures.AnnulProcedure(ctx, a.actor, id, reason)
}

func (a *LocalAuthority) ResendProcedure(ctx context.Context, id string, payload domain.ResendPayload) (*domain.Procedure, error) {
	return a.procedures.ResendProcedure(ctx, a.actor, id, payload)
}

func (a *LocalAuthority) RequestSignatureCode(ctx context.Context, procedureID string) (*domain.ChallengeTicket, error) {
	return a.signatures.RequestCode(ctx, a.actor, procedureID)
}

func (a *LocalAuthority) VerifySignatureCode(ctx context.Context, procedureID, code string, acceptsTerms bool, env domain.ClientEnvironment) (*ports.SignatureResult, error) {
	return a.signatures.VerifyAndSign(ctx, a.actor, procedureID, code, acceptsTerms, env)
}

func (a *LocalAuthority) CreateObservation(ctx context.Context, procedureID string, category domain.ObservationCategory, body string) (*domain.Observation, error) {
	return a.observations.Create(ctx, a.actor, procedureID, category, body)
}

func (a *LocalAuthority) ResolveObservation(ctx context.Context, observationID, resolution string, resend *domain.ResendPayload) (*domain.Observation, error) {
	return a.observations.Resolve(ctx, a.actor, observationID, resolution, resend)
}

func (a *LocalAuthority) ListObservations(ctx context.Context, procedureID string) ([]domain.Observation, error) {
	return a.observations.List(ctx, a.actor, procedureID)
}

// HasUnresolvedObservation exige, como la API, que el actor pueda leer el trámite.
func (a *LocalAuthority) HasUnresolvedObservation(ctx context.Context, procedureID string) (bool, error) {
	if _, err := a.procedures.FetchProcedure(ctx, a.actor, procedureID); err != nil {
		return false, err
	}
	return a.observations.HasUnresolvedObservation(ctx, procedureID)
}

func (a *LocalAuthority) FetchDocumentContent(ctx context.Context, procedureID string) (io.ReadCloser, error) {
	rc, _, err := a.documents.OpenContent(ctx, a.actor, procedureID)
	return rc, err
}

func (a *LocalAuthority) FetchDocumentDownloadURL(ctx context.Context, procedureID string) (string, error) {
	return a.documents.DownloadURL(ctx, a.actor, procedureID)
}

var _ ports.Authority = (*LocalAuthority)(nil)
