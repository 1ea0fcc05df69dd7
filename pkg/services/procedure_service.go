package services

import (
	"context"
	"fmt"
	"strings"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type procedureService struct {
	life *lifecycle
	docs ports.DocumentRepository
}

// NewProcedureService crea una nueva instancia de ProcedureService
func NewProcedureService(repo ports.ProcedureRepository, docs ports.DocumentRepository, opts ...Option) ports.ProcedureService {
	return &procedureService{
		life: newLifecycle(repo, buildOptions(opts)),
		docs: docs,
	}
}

// Dispatch implementa ports.ProcedureService.
func (s *procedureService) Dispatch(ctx context.Context, actor domain.Actor, req ports.DispatchRequest) (p *domain.Procedure, err error) {
	ctx, span := startSpan(ctx, "ProcedureService.Dispatch")
	defer func() { endSpan(span, err) }()

	if actor.ID == "" {
		return nil, domain.NewError(domain.KindForbidden, "an authenticated sender is required")
	}
	if strings.TrimSpace(req.Subject) == "" || req.RecipientID == "" || req.DocumentID == "" {
		return nil, domain.NewError(domain.KindValidation, "subject, recipient and document are required")
	}
	if req.RecipientID == actor.ID {
		return nil, domain.NewError(domain.KindValidation, "a procedure cannot be sent to its own sender")
	}
	doc, err := s.findDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	code := req.Code
	if code == "" {
		code = "TRM-" + strings.ToUpper(uuid.New().String()[:8])
	}
	p = &domain.Procedure{
		ID:                uuid.New().String(),
		Code:              code,
		Subject:           strings.TrimSpace(req.Subject),
		State:             domain.StateSent, // Estado inicial
		RequiresSignature: req.RequiresSignature,
		RequiresResponse:  req.RequiresResponse,
		Version:           1,
		Document:          doc.Ref(),
		SenderID:          actor.ID,
		RecipientID:       req.RecipientID,
		SentAt:            s.life.now(),
		Revision:          1,
	}
	if err := s.life.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save procedure: %w", err)
	}
	s.life.logger.InfoContext(ctx, "procedure dispatched", "procedure_id", p.ID, "code", p.Code, "recipient_id", p.RecipientID)
	return p, nil
}

// FetchProcedure implementa ports.ProcedureService. Las lecturas se admiten
// aunque la versión sea obsoleta.
func (s *procedureService) FetchProcedure(ctx context.Context, actor domain.Actor, id string) (*domain.Procedure, error) {
	p, err := s.life.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParty(p, actor); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenProcedure implementa ports.ProcedureService.
func (s *procedureService) OpenProcedure(ctx context.Context, actor domain.Actor, id string) (p *domain.Procedure, err error) {
	ctx, span := startSpan(ctx, "ProcedureService.OpenProcedure", attribute.String("procedure.id", id))
	defer func() { endSpan(span, err) }()

	return s.life.apply(ctx, id, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireRecipient(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "open"); err != nil {
			return nil, err
		}
		changed, err := p.Open(s.life.now())
		if err != nil || !changed {
			return nil, err
		}
		return s.life.update, nil
	})
}

// MarkProcedureRead implementa ports.ProcedureService.
func (s *procedureService) MarkProcedureRead(ctx context.Context, actor domain.Actor, id string) (p *domain.Procedure, err error) {
	ctx, span := startSpan(ctx, "ProcedureService.MarkProcedureRead", attribute.String("procedure.id", id))
	defer func() { endSpan(span, err) }()

	p, err = s.life.apply(ctx, id, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireRecipient(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "mark_read"); err != nil {
			return nil, err
		}
		changed, err := p.MarkRead(s.life.now())
		if err != nil || !changed {
			return nil, err
		}
		return s.life.update, nil
	})
	if err == nil {
		s.life.logger.InfoContext(ctx, "procedure read", "procedure_id", p.ID, "state", p.State)
	}
	return p, err
}

// RespondProcedure implementa ports.ProcedureService.
func (s *procedureService) RespondProcedure(ctx context.Context, actor domain.Actor, id string, accepts bool, comment string) (p *domain.Procedure, err error) {
	ctx, span := startSpan(ctx, "ProcedureService.RespondProcedure", attribute.String("procedure.id", id))
	defer func() { endSpan(span, err) }()

	return s.life.apply(ctx, id, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireRecipient(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "respond"); err != nil {
			return nil, err
		}
		resp := &domain.ConformityResponse{
			Accepts:     accepts,
			Comment:     strings.TrimSpace(comment),
			ResponderID: actor.ID,
			RespondedAt: s.life.now(),
		}
		if err := p.Respond(resp); err != nil {
			return nil, err
		}
		return s.life.update, nil
	})
}

// AnnulProcedure implementa ports.ProcedureService.
func (s *procedureService) AnnulProcedure(ctx context.Context, actor domain.Actor, id, reason string) (p *domain.Procedure, err error) {
	ctx, span := startSpan(ctx, "ProcedureService.AnnulProcedure", attribute.String("procedure.id", id))
	defer func() { endSpan(span, err) }()

	p, err = s.life.apply(ctx, id, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireSender(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "annul"); err != nil {
			return nil, err
		}
		if err := p.Annul(reason, s.life.now()); err != nil {
			return nil, err
		}
		return s.life.update, nil
	})
	if err == nil {
		s.life.logger.InfoContext(ctx, "procedure annulled", "procedure_id", p.ID, "reason", p.AnnulReason)
	}
	return p, err
}

// ResendProcedure implementa ports.ProcedureService. Devuelve la nueva versión.
func (s *procedureService) ResendProcedure(ctx context.Context, actor domain.Actor, id string, payload domain.ResendPayload) (next *domain.Procedure, err error) {
	ctx, span := startSpan(ctx, "ProcedureService.ResendProcedure", attribute.String("procedure.id", id))
	defer func() { endSpan(span, err) }()

	doc, err := s.findDocument(ctx, payload.DocumentID)
	if err != nil {
		return nil, err
	}
	_, err = s.life.apply(ctx, id, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireSender(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "resend"); err != nil {
			return nil, err
		}
		n, err := p.NextVersion(uuid.New().String(), doc.Ref(), payload.Subject, s.life.now())
		if err != nil {
			return nil, err
		}
		n.Revision = 1
		next = n
		return func(ctx context.Context, p *domain.Procedure, expected int64) error {
			return s.life.repo.Supersede(ctx, p, expected, n)
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.life.logger.InfoContext(ctx, "procedure resent", "procedure_id", id, "new_procedure_id", next.ID, "version", next.Version)
	return next, nil
}

func (s *procedureService) findDocument(ctx context.Context, id string) (*domain.Document, error) {
	if id == "" {
		return nil, domain.NewError(domain.KindValidation, "a document is required")
	}
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find document by ID: %w", err)
	}
	if doc == nil {
		return nil, domain.NewError(domain.KindNotFound, "document %s not found", id)
	}
	return doc, nil
}

// Asegurarse de que procedureService implementa ports.ProcedureService
var _ ports.ProcedureService = (*procedureService)(nil)
