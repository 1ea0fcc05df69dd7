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

type observationService struct {
	life     *lifecycle
	repo     ports.ObservationRepository
	docs     ports.DocumentRepository
	notifier ports.Notifier
}

// NewObservationService crea una nueva instancia de ObservationService
func NewObservationService(
	procedures ports.ProcedureRepository,
	repo ports.ObservationRepository,
	docs ports.DocumentRepository,
	notifier ports.Notifier,
	opts ...Option,
) ports.ObservationService {
	return &observationService{
		life:     newLifecycle(procedures, buildOptions(opts)),
		repo:     repo,
		docs:     docs,
		notifier: notifier,
	}
}

// Create implementa ports.ObservationService. Solo se admite una
// observación sin resolver por trámite.
func (s *observationService) Create(ctx context.Context, actor domain.Actor, procedureID string, category domain.ObservationCategory, body string) (o *domain.Observation, err error) {
	ctx, span := startSpan(ctx, "ObservationService.Create", attribute.String("procedure.id", procedureID))
	defer func() { endSpan(span, err) }()

	if !category.Valid() {
		return nil, domain.NewError(domain.KindValidation, "unknown observation category %q", category)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domain.NewError(domain.KindValidation, "an observation body is required")
	}

	p, err := s.life.apply(ctx, procedureID, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireRecipient(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "create_observation"); err != nil {
			return nil, err
		}
		if p.State == domain.StateAnnulled {
			return nil, domain.NewError(domain.KindInvalidState, "procedure %s is annulled", p.Code).
				WithMetadata("state", string(p.State))
		}
		if p.HasUnresolvedObservation() {
			return nil, domain.NewError(domain.KindObservationPending, "procedure %s already has an unresolved observation", p.Code).
				WithMetadata("observation_id", p.OpenObservationID)
		}
		obs := &domain.Observation{
			ID:          uuid.New().String(),
			ProcedureID: p.ID,
			AuthorID:    actor.ID,
			Category:    category,
			Body:        body,
			CreatedAt:   s.life.now(),
		}
		p.OpenObservationID = obs.ID
		o = obs
		return func(ctx context.Context, p *domain.Procedure, expected int64) error {
			return s.repo.Open(ctx, obs, p, expected)
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.notifier.ObservationCreated(ctx, p, o); err != nil {
		s.life.logger.WarnContext(ctx, "failed to notify sender of observation", "procedure_id", p.ID, "observation_id", o.ID, "error", err)
	}
	s.life.logger.InfoContext(ctx, "observation created", "procedure_id", p.ID, "observation_id", o.ID, "category", o.Category)
	return o, nil
}

// Resolve implementa ports.ObservationService. Con resend, la resolución y
// el reenvío se escriben juntos o no se escribe ninguno.
func (s *observationService) Resolve(ctx context.Context, actor domain.Actor, observationID, resolution string, resend *domain.ResendPayload) (o *domain.Observation, err error) {
	ctx, span := startSpan(ctx, "ObservationService.Resolve", attribute.String("observation.id", observationID))
	defer func() { endSpan(span, err) }()

	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, domain.NewError(domain.KindValidation, "a resolution text is required")
	}
	current, err := s.find(ctx, observationID)
	if err != nil {
		return nil, err
	}
	var doc *domain.Document
	if resend != nil {
		doc, err = s.findDocument(ctx, resend.DocumentID)
		if err != nil {
			return nil, err
		}
	}

	var next *domain.Procedure
	_, err = s.life.apply(ctx, current.ProcedureID, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireSender(p, actor); err != nil {
			return nil, err
		}
		obs, err := s.find(ctx, observationID)
		if err != nil {
			return nil, err
		}
		if obs.Resolved {
			return nil, domain.NewError(domain.KindAlreadyResolved, "observation %s is already resolved", obs.ID)
		}
		now := s.life.now()
		obs.Resolved = true
		obs.Resolution = resolution
		obs.ResolverID = actor.ID
		obs.ResolvedAt = &now
		if p.OpenObservationID == obs.ID {
			p.OpenObservationID = ""
		}
		next = nil
		if doc != nil {
			if err := s.life.guard.Admit(ctx, p, "resend"); err != nil {
				return nil, err
			}
			n, err := p.NextVersion(uuid.New().String(), doc.Ref(), resend.Subject, now)
			if err != nil {
				return nil, err
			}
			n.Revision = 1
			next = n
		}
		o = obs
		return func(ctx context.Context, p *domain.Procedure, expected int64) error {
			return s.repo.Resolve(ctx, obs, p, expected, next)
		}, nil
	})
	if err != nil {
		return nil, err
	}
	attrs := []any{"observation_id", o.ID, "procedure_id", o.ProcedureID}
	if next != nil {
		attrs = append(attrs, "new_procedure_id", next.ID, "version", next.Version)
	}
	s.life.logger.InfoContext(ctx, "observation resolved", attrs...)
	return o, nil
}

// List implementa ports.ObservationService.
func (s *observationService) List(ctx context.Context, actor domain.Actor, procedureID string) ([]domain.Observation, error) {
	p, err := s.life.load(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	if err := requireParty(p, actor); err != nil {
		return nil, err
	}
	obs, err := s.repo.ListByProcedure(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	return obs, nil
}

// HasUnresolvedObservation implementa ports.ObservationService.
func (s *observationService) HasUnresolvedObservation(ctx context.Context, procedureID string) (bool, error) {
	p, err := s.life.load(ctx, procedureID)
	if err != nil {
		return false, err
	}
	return p.HasUnresolvedObservation(), nil
}

func (s *observationService) find(ctx context.Context, id string) (*domain.Observation, error) {
	obs, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find observation by ID: %w", err)
	}
	if obs == nil {
		return nil, domain.NewError(domain.KindNotFound, "observation %s not found", id)
	}
	return obs, nil
}

func (s *observationService) findDocument(ctx context.Context, id string) (*domain.Document, error) {
	if id == "" {
		return nil, domain.NewError(domain.KindValidation, "a corrected document is required to resend")
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

// Asegurarse de que observationService implementa ports.ObservationService
var _ ports.ObservationService = (*observationService)(nil)
