package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("collie-procedures-backend/pkg/services")

// maxWriteAttempts limita los reintentos ante conflictos de revisión.
const maxWriteAttempts = 5

// Option configura los servicios.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock reemplaza el reloj del servicio (útil en pruebas).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger define el logger estructurado del servicio.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// commitFunc persiste p, que ya tiene la revisión incrementada.
type commitFunc func(ctx context.Context, p *domain.Procedure, expectedRevision int64) error

// lifecycle concentra la lectura y escritura de trámites. Toda mutación
// pasa por apply: carga, transición de dominio y escritura condicional.
type lifecycle struct {
	repo   ports.ProcedureRepository
	guard  *ObsolescenceGuard
	now    func() time.Time
	logger *slog.Logger
}

func newLifecycle(repo ports.ProcedureRepository, o options) *lifecycle {
	return &lifecycle{
		repo:   repo,
		guard:  NewObsolescenceGuard(o.logger),
		now:    o.now,
		logger: o.logger,
	}
}

func (l *lifecycle) load(ctx context.Context, id string) (*domain.Procedure, error) {
	p, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find procedure by ID: %w", err)
	}
	if p == nil {
		return nil, domain.NewError(domain.KindNotFound, "procedure %s not found", id)
	}
	return p, nil
}

func (l *lifecycle) update(ctx context.Context, p *domain.Procedure, expected int64) error {
	return l.repo.Update(ctx, p, expected)
}

// apply ejecuta fn sobre una copia recién leída del trámite. Si fn no
// devuelve commit, la operación es un no-op y se devuelve el estado actual.
// Ante un conflicto de revisión vuelve a leer y reaplica, de modo que dos
// transiciones idénticas concurrentes convergen sin error.
func (l *lifecycle) apply(ctx context.Context, id string, fn func(p *domain.Procedure) (commitFunc, error)) (*domain.Procedure, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		p, err := l.load(ctx, id)
		if err != nil {
			return nil, err
		}
		commit, err := fn(p)
		if err != nil {
			return nil, err
		}
		if commit == nil {
			return p, nil
		}
		expected := p.Revision
		p.Revision++
		err = commit(ctx, p, expected)
		if errors.Is(err, domain.ErrRevisionConflict) {
			l.logger.DebugContext(ctx, "procedure revision conflict, retrying", "procedure_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update procedure: %w", err)
		}
		return p, nil
	}
	return nil, domain.NewError(domain.KindUnavailable, "procedure %s is being modified concurrently, try again", id)
}

func requireRecipient(p *domain.Procedure, actor domain.Actor) error {
	if actor.ID == "" || actor.ID != p.RecipientID {
		return domain.NewError(domain.KindForbidden, "only the recipient can perform this action on procedure %s", p.Code)
	}
	return nil
}

func requireSender(p *domain.Procedure, actor domain.Actor) error {
	if actor.ID == "" || actor.ID != p.SenderID {
		return domain.NewError(domain.KindForbidden, "only the sender can perform this action on procedure %s", p.Code)
	}
	return nil
}

func requireParty(p *domain.Procedure, actor domain.Actor) error {
	if actor.ID == "" || (actor.ID != p.SenderID && actor.ID != p.RecipientID) {
		return domain.NewError(domain.KindForbidden, "procedure %s is not shared with %s", p.Code, actor.ID)
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
