package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// SignatureConfig controla la emisión de códigos de verificación.
type SignatureConfig struct {
	CodeTTL      time.Duration // ventana de validez de un código
	CodeLength   int
	BcryptCost   int
	RequestEvery time.Duration // ritmo sostenido de emisión por trámite
	RequestBurst int
}

// DefaultSignatureConfig: códigos de 6 dígitos válidos por 5 minutos.
func DefaultSignatureConfig() SignatureConfig {
	return SignatureConfig{
		CodeTTL:      5 * time.Minute,
		CodeLength:   6,
		BcryptCost:   bcrypt.DefaultCost,
		RequestEvery: 30 * time.Second,
		RequestBurst: 3,
	}
}

type signatureService struct {
	life       *lifecycle
	workers    ports.WorkerDirectory
	challenges ports.ChallengeStore
	attempts   ports.AttemptLimiter
	codes      ports.CodeSender
	cfg        SignatureConfig

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	swept    time.Time
}

// limiterEntry es el limitador de emisión de un trámite y su último uso.
type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewSignatureService crea una nueva instancia de SignatureService
func NewSignatureService(
	repo ports.ProcedureRepository,
	workers ports.WorkerDirectory,
	challenges ports.ChallengeStore,
	attempts ports.AttemptLimiter,
	codes ports.CodeSender,
	cfg SignatureConfig,
	opts ...Option,
) ports.SignatureService {
	def := DefaultSignatureConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = def.RequestBurst
	}
	return &signatureService{
		life:       newLifecycle(repo, buildOptions(opts)),
		workers:    workers,
		challenges: challenges,
		attempts:   attempts,
		codes:      codes,
		cfg:        cfg,
		limiters:   make(map[string]*limiterEntry),
	}
}

// RequestCode implementa ports.SignatureService. Emite un nuevo desafío que
// reemplaza al anterior; sirve también para reenviar el código.
func (s *signatureService) RequestCode(ctx context.Context, actor domain.Actor, procedureID string) (t *domain.ChallengeTicket, err error) {
	ctx, span := startSpan(ctx, "SignatureService.RequestCode", attribute.String("procedure.id", procedureID))
	defer func() { endSpan(span, err) }()

	p, err := s.admitSigning(ctx, actor, procedureID)
	if err != nil {
		return nil, err
	}
	now := s.life.now()
	if err := s.checkLockout(ctx, procedureID, now); err != nil {
		return nil, err
	}
	if !s.allowRequest(procedureID, now) {
		return nil, domain.NewError(domain.KindRateLimited, "too many code requests for procedure %s, wait before requesting another", p.Code)
	}
	recipient, err := s.workers.FindByID(ctx, p.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to find recipient: %w", err)
	}
	if recipient == nil || recipient.Email == "" {
		return nil, domain.NewError(domain.KindValidation, "recipient of procedure %s has no verification address", p.Code)
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}
	ch := &domain.VerificationChallenge{
		ID:          uuid.New().String(),
		ProcedureID: p.ID,
		Destination: recipient.Email,
		CodeHash:    hash,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.CodeTTL),
	}
	if err := s.challenges.Save(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to save challenge: %w", err)
	}
	if err := s.codes.SendSignatureCode(ctx, ch.Destination, code, ch.ExpiresAt); err != nil {
		return nil, &domain.Error{Kind: domain.KindUnavailable, Message: "failed to deliver verification code", Cause: err}
	}
	s.life.logger.InfoContext(ctx, "signature code issued", "procedure_id", p.ID, "challenge_id", ch.ID, "expires_at", ch.ExpiresAt)
	return &domain.ChallengeTicket{
		ChallengeID:       ch.ID,
		MaskedDestination: domain.MaskEmail(ch.Destination),
		ExpiresAt:         ch.ExpiresAt,
	}, nil
}

// VerifyAndSign implementa ports.SignatureService. El vencimiento lo decide
// el reloj del servidor, no la cuenta regresiva del cliente.
func (s *signatureService) VerifyAndSign(ctx context.Context, actor domain.Actor, procedureID, code string, acceptsTerms bool, env domain.ClientEnvironment) (res *ports.SignatureResult, err error) {
	ctx, span := startSpan(ctx, "SignatureService.VerifyAndSign", attribute.String("procedure.id", procedureID))
	defer func() { endSpan(span, err) }()

	p, err := s.admitSigning(ctx, actor, procedureID)
	if err != nil {
		return nil, err
	}
	if !acceptsTerms {
		return nil, domain.NewError(domain.KindTermsNotAccepted, "the terms must be accepted before signing")
	}
	now := s.life.now()
	if err := s.checkLockout(ctx, procedureID, now); err != nil {
		return nil, err
	}
	ch, err := s.challenges.Active(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("failed to find challenge: %w", err)
	}
	if ch == nil {
		return nil, domain.NewError(domain.KindChallengeMissing, "no verification code was requested for procedure %s", p.Code)
	}
	// Un desafío sin hash es el rastro de uno vencido que el store ya purgó.
	if ch.Expired(now) || len(ch.CodeHash) == 0 {
		return nil, domain.NewError(domain.KindExpiredCode, "the verification code expired, request a new one").
			WithMetadata("expired_at", ch.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if bcrypt.CompareHashAndPassword(ch.CodeHash, []byte(code)) != nil {
		return nil, s.registerFailure(ctx, p)
	}
	consumed, err := s.challenges.Consume(ctx, procedureID, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		return nil, domain.NewError(domain.KindInvalidCode, "the verification code is no longer valid")
	}

	signer, err := s.workers.FindByID(ctx, p.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to find signer: %w", err)
	}
	if signer == nil {
		signer = &domain.Worker{ID: p.RecipientID}
	}
	sig := &domain.ElectronicSignature{
		ID:           uuid.New().String(),
		ProcedureID:  p.ID,
		Signer:       signer.Snapshot(),
		SignedAt:     now,
		Environment:  env,
		AcceptsTerms: true,
		ChallengeID:  ch.ID,
	}
	signed, err := s.life.apply(ctx, procedureID, func(p *domain.Procedure) (commitFunc, error) {
		if err := requireRecipient(p, actor); err != nil {
			return nil, err
		}
		if err := s.life.guard.Admit(ctx, p, "sign"); err != nil {
			return nil, err
		}
		if err := p.Sign(sig); err != nil {
			return nil, err
		}
		return s.life.update, nil
	})
	if err != nil {
		// El código ya se consumió: el destinatario debe pedir otro. Los
		// intentos fallidos previos siguen contando.
		s.life.logger.WarnContext(ctx, "verification code spent without signature", "procedure_id", procedureID, "challenge_id", ch.ID, "error", err)
		return nil, err
	}
	if err := s.attempts.Reset(ctx, procedureID); err != nil {
		s.life.logger.WarnContext(ctx, "failed to reset verification attempts", "procedure_id", procedureID, "error", err)
	}
	s.forgetLimiter(procedureID)
	s.life.logger.InfoContext(ctx, "procedure signed", "procedure_id", signed.ID, "signature_id", sig.ID, "ip", env.IPAddress)
	return &ports.SignatureResult{Signature: sig, Procedure: signed}, nil
}

func (s *signatureService) admitSigning(ctx context.Context, actor domain.Actor, procedureID string) (*domain.Procedure, error) {
	p, err := s.life.load(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	if err := requireRecipient(p, actor); err != nil {
		return nil, err
	}
	if err := s.life.guard.Admit(ctx, p, "sign"); err != nil {
		return nil, err
	}
	if err := p.CanSign(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *signatureService) checkLockout(ctx context.Context, procedureID string, now time.Time) error {
	until, err := s.attempts.LockedUntil(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("failed to read lockout: %w", err)
	}
	if !until.IsZero() && now.Before(until) {
		return lockedOut(until)
	}
	return nil
}

func (s *signatureService) registerFailure(ctx context.Context, p *domain.Procedure) error {
	remaining, until, err := s.attempts.RegisterFailure(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to register verification failure: %w", err)
	}
	if !until.IsZero() {
		s.life.logger.WarnContext(ctx, "signature verification locked", "procedure_id", p.ID, "locked_until", until)
		return lockedOut(until)
	}
	return domain.NewError(domain.KindInvalidCode, "the verification code does not match").
		WithMetadata("remaining_attempts", strconv.Itoa(remaining))
}

func lockedOut(until time.Time) error {
	return domain.NewError(domain.KindLockedOut, "too many failed attempts, try again after %s", until.UTC().Format(time.RFC3339)).
		WithMetadata("locked_until", until.UTC().Format(time.RFC3339))
}

// allowRequest consume un permiso de emisión del trámite. Un limitador sin
// uso durante limiterIdle ya recargó toda su ráfaga, así que se descarta y
// el mapa no crece con trámites abandonados.
func (s *signatureService) allowRequest(procedureID string, now time.Time) bool {
	if s.cfg.RequestEvery <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idle := s.limiterIdle()
	if now.Sub(s.swept) >= idle {
		for id, e := range s.limiters {
			if now.Sub(e.seen) >= idle {
				delete(s.limiters, id)
			}
		}
		s.swept = now
	}
	e, ok := s.limiters[procedureID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(s.cfg.RequestEvery), s.cfg.RequestBurst)}
		s.limiters[procedureID] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

func (s *signatureService) limiterIdle() time.Duration {
	return s.cfg.RequestEvery * time.Duration(s.cfg.RequestBurst)
}

func (s *signatureService) forgetLimiter(procedureID string) {
	s.mu.Lock()
	delete(s.limiters, procedureID)
	s.mu.Unlock()
}

// generateCode devuelve un código numérico de n dígitos con ceros a la izquierda.
func generateCode(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

// Asegurarse de que signatureService implementa ports.SignatureService
var _ ports.SignatureService = (*signatureService)(nil)
