// Package notify entrega códigos de firma y avisos de observaciones. La
// entrega real por correo es externa; estos adaptadores dejan el evento en
// el log estructurado.
package notify

import (
	"context"
	"log/slog"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

// LogSender implementa ports.CodeSender y ports.Notifier escribiendo en slog.
type LogSender struct {
	logger *slog.Logger
	// revealCodes incluye el código en el log; solo para ejecución local.
	revealCodes bool
}

// NewLogSender crea el adaptador. revealCodes debe ser false en producción.
func NewLogSender(logger *slog.Logger, revealCodes bool) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger, revealCodes: revealCodes}
}

// SendSignatureCode implementa ports.CodeSender.
func (s *LogSender) SendSignatureCode(ctx context.Context, destination, code string, expiresAt time.Time) error {
	attrs := []any{
		"destination", domain.MaskEmail(destination),
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	}
	if s.revealCodes {
		attrs = append(attrs, "code", code)
	}
	s.logger.InfoContext(ctx, "signature code issued", attrs...)
	return nil
}

// ObservationCreated implementa ports.Notifier.
func (s *LogSender) ObservationCreated(ctx context.Context, p *domain.Procedure, o *domain.Observation) error {
	s.logger.InfoContext(ctx, "observation created",
		"procedure_id", p.ID,
		"procedure_code", p.Code,
		"sender_id", p.SenderID,
		"observation_id", o.ID,
		"category", string(o.Category),
	)
	return nil
}

var (
	_ ports.CodeSender = (*LogSender)(nil)
	_ ports.Notifier   = (*LogSender)(nil)
)
