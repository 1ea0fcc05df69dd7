package services

import (
	"context"
	"log/slog"

	"collie-procedures-backend/pkg/domain"
)

// ObsolescenceGuard rechaza operaciones mutantes sobre versiones que ya
// fueron reemplazadas por un reenvío. Las lecturas nunca pasan por aquí.
type ObsolescenceGuard struct {
	logger *slog.Logger
}

func NewObsolescenceGuard(logger *slog.Logger) *ObsolescenceGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObsolescenceGuard{logger: logger}
}

// Admit devuelve un error obsolete_version que nombra la versión vigente.
func (g *ObsolescenceGuard) Admit(ctx context.Context, p *domain.Procedure, op string) error {
	err := p.CheckCurrent()
	if err != nil {
		g.logger.InfoContext(ctx, "mutation rejected on obsolete version",
			"op", op,
			"procedure_id", p.ID,
			"version", p.Version,
			"superseded_by", p.SupersededBy.ID,
		)
	}
	return err
}
