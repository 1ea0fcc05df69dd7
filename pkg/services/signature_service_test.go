package services_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	challengememory "collie-procedures-backend/pkg/adapters/challenge/memory"
	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
	"collie-procedures-backend/pkg/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testEnv = domain.ClientEnvironment{IPAddress: "10.0.0.7", UserAgent: "Mozilla/5.0", Platform: "web", Language: "es-PE"}

func TestRequestCode_IssuesMaskedTicket(t *testing.T) {
	h := newHarness(t)
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)

	ticket, err := h.signatures.RequestCode(context.Background(), recipient, p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ChallengeID)
	assert.Equal(t, "j*****@collie.test", ticket.MaskedDestination)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), ticket.ExpiresAt)

	code := h.codes.Last()
	assert.Len(t, code, 6)
	assert.Equal(t, []string{"jperez@collie.test"}, h.codes.dest)
}

func TestRequestCode_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	noSignature := h.dispatch(t, false, false)
	h.read(t, noSignature.ID)
	_, err := h.signatures.RequestCode(ctx, recipient, noSignature.ID)
	requireKind(t, err, domain.KindSignatureNotRequired)

	unread := h.dispatch(t, true, false)
	_, err = h.signatures.RequestCode(ctx, recipient, unread.ID)
	requireKind(t, err, domain.KindInvalidState)

	_, err = h.signatures.RequestCode(ctx, sender, unread.ID)
	requireKind(t, err, domain.KindForbidden)
}

func TestVerifyAndSign_SignsCurrentVersionOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1 := h.dispatch(t, true, false)
	h.read(t, v1.ID)

	v2, err := h.procedures.ResendProcedure(ctx, sender, v1.ID, domain.ResendPayload{DocumentID: "doc-2"})
	require.NoError(t, err)

	_, err = h.signatures.RequestCode(ctx, recipient, v1.ID)
	de := requireKind(t, err, domain.KindObsoleteVersion)
	assert.Equal(t, v2.ID, de.Metadata["superseded_by"])
	assert.Contains(t, de.Message, "version 2")

	_, err = h.signatures.VerifyAndSign(ctx, recipient, v1.ID, "123456", true, testEnv)
	requireKind(t, err, domain.KindObsoleteVersion)

	h.read(t, v2.ID)
	_, err = h.signatures.RequestCode(ctx, recipient, v2.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	res, err := h.signatures.VerifyAndSign(ctx, recipient, v2.ID, h.codes.Last(), true, testEnv)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSigned, res.Procedure.State)
	assert.Equal(t, h.clock.Now(), *res.Procedure.SignedAt)

	sig := res.Signature
	assert.Equal(t, v2.ID, sig.ProcedureID)
	assert.Equal(t, domain.SignerSnapshot{WorkerID: recipientID, Name: "Jorge Perez", Email: "jperez@collie.test"}, sig.Signer)
	assert.Equal(t, testEnv, sig.Environment)
	assert.True(t, sig.AcceptsTerms)

	stored, err := h.procedures.FetchProcedure(ctx, sender, v2.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Signature)
	assert.Equal(t, sig.ID, stored.Signature.ID)

	// El código ya se consumió.
	_, err = h.signatures.VerifyAndSign(ctx, recipient, v2.ID, h.codes.Last(), true, testEnv)
	requireKind(t, err, domain.KindInvalidState)
}

func TestVerifyAndSign_TermsNotAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)
	_, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)

	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), false, testEnv)
	requireKind(t, err, domain.KindTermsNotAccepted)

	// El desafío sigue vigente.
	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	require.NoError(t, err)
}

func TestVerifyAndSign_ChallengeMissing(t *testing.T) {
	h := newHarness(t)
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)

	_, err := h.signatures.VerifyAndSign(context.Background(), recipient, p.ID, "123456", true, testEnv)
	requireKind(t, err, domain.KindChallengeMissing)
}

func TestVerifyAndSign_ExpiredCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)
	_, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	requireKind(t, err, domain.KindExpiredCode)

	stored, err := h.procedures.FetchProcedure(ctx, recipient, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRead, stored.State)
}

func TestRequestCode_NewCodeInvalidatesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)

	first, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
	oldCode := h.codes.Last()
	second, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
	newCode := h.codes.Last()
	assert.NotEqual(t, first.ChallengeID, second.ChallengeID)
	if oldCode == newCode {
		t.Skip("both random codes are equal")
	}

	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, oldCode, true, testEnv)
	requireKind(t, err, domain.KindInvalidCode)

	res, err := h.signatures.VerifyAndSign(ctx, recipient, p.ID, newCode, true, testEnv)
	require.NoError(t, err)
	assert.Equal(t, second.ChallengeID, res.Signature.ChallengeID)
}

func TestVerifyAndSign_LocksOutAfterFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)
	_, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
	code := h.codes.Last()

	for _, remaining := range []string{"4", "3", "2", "1"} {
		_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, "wrong", true, testEnv)
		de := requireKind(t, err, domain.KindInvalidCode)
		assert.Equal(t, remaining, de.Metadata["remaining_attempts"])
	}

	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, "wrong", true, testEnv)
	de := requireKind(t, err, domain.KindLockedOut)
	lockedUntil := h.clock.Now().Add(15 * time.Minute).UTC().Format(time.RFC3339)
	assert.Equal(t, lockedUntil, de.Metadata["locked_until"])

	// Ni el código correcto ni uno nuevo pasan durante el bloqueo.
	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, code, true, testEnv)
	requireKind(t, err, domain.KindLockedOut)
	_, err = h.signatures.RequestCode(ctx, recipient, p.ID)
	requireKind(t, err, domain.KindLockedOut)

	h.clock.Advance(15 * time.Minute)
	_, err = h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
	_, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	require.NoError(t, err)
}

func TestRequestCode_Throttled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)

	for i := 0; i < 3; i++ {
		_, err := h.signatures.RequestCode(ctx, recipient, p.ID)
		require.NoError(t, err)
	}
	_, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	requireKind(t, err, domain.KindRateLimited)
	assert.True(t, err.(*domain.Error).Retryable())

	h.clock.Advance(30 * time.Second)
	_, err = h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
}

func TestSignedProcedure_IsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)
	_, err := h.signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)

	var res *ports.SignatureResult
	res, err = h.signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	require.NoError(t, err)

	_, err = h.procedures.RespondProcedure(ctx, recipient, res.Procedure.ID, true, "")
	requireKind(t, err, domain.KindResponseNotRequired)
	_, err = h.procedures.AnnulProcedure(ctx, sender, res.Procedure.ID, "tarde")
	requireKind(t, err, domain.KindInvalidState)
}

// flakyProcedures falla las escrituras de trámites mientras failing esté activo.
type flakyProcedures struct {
	ports.ProcedureRepository
	failing atomic.Bool
}

func (r *flakyProcedures) Update(ctx context.Context, p *domain.Procedure, expected int64) error {
	if r.failing.Load() {
		return errors.New("table unavailable")
	}
	return r.ProcedureRepository.Update(ctx, p, expected)
}

func TestVerifyAndSign_FailedSignKeepsFailureCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)

	repo := &flakyProcedures{ProcedureRepository: h.store.Procedures()}
	challenges := challengememory.NewChallengeStore()
	attempts := challengememory.NewAttemptLimiter(domain.DefaultLockoutPolicy(), h.clock.Now)
	cfg := services.DefaultSignatureConfig()
	cfg.BcryptCost = bcrypt.MinCost
	signatures := services.NewSignatureService(repo, h.store.Workers(), challenges, attempts, h.codes, cfg, services.WithClock(h.clock.Now))

	_, err := signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
	for _, want := range []string{"4", "3"} {
		_, err = signatures.VerifyAndSign(ctx, recipient, p.ID, "not-a-code", true, testEnv)
		assert.Equal(t, want, requireKind(t, err, domain.KindInvalidCode).Metadata["remaining_attempts"])
	}

	repo.failing.Store(true)
	_, err = signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	require.Error(t, err)
	repo.failing.Store(false)

	stored, err := h.procedures.FetchProcedure(ctx, recipient, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRead, stored.State)

	// El código quedó gastado y los fallos previos siguen contando.
	_, err = signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	requireKind(t, err, domain.KindChallengeMissing)
	remaining, _, err := attempts.RegisterFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	_, err = signatures.RequestCode(ctx, recipient, p.ID)
	require.NoError(t, err)
	res, err := signatures.VerifyAndSign(ctx, recipient, p.ID, h.codes.Last(), true, testEnv)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSigned, res.Procedure.State)
	remaining, _, err = attempts.RegisterFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

// purgedChallenges simula un store que ya borró el hash del código vencido.
type purgedChallenges struct {
	ports.ChallengeStore
	expiresAt time.Time
}

func (c purgedChallenges) Active(_ context.Context, procedureID string) (*domain.VerificationChallenge, error) {
	return &domain.VerificationChallenge{ID: "ch-old", ProcedureID: procedureID, ExpiresAt: c.expiresAt}, nil
}

func TestVerifyAndSign_PurgedChallengeIsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.dispatch(t, true, false)
	h.read(t, p.ID)

	attempts := challengememory.NewAttemptLimiter(domain.DefaultLockoutPolicy(), h.clock.Now)
	// El reloj del store puede ir por delante del servicio.
	store := purgedChallenges{expiresAt: h.clock.Now().Add(time.Second)}
	signatures := services.NewSignatureService(h.store.Procedures(), h.store.Workers(), store, attempts, h.codes,
		services.DefaultSignatureConfig(), services.WithClock(h.clock.Now))

	_, err := signatures.VerifyAndSign(ctx, recipient, p.ID, "123456", true, testEnv)
	requireKind(t, err, domain.KindExpiredCode)
	remaining, _, err := attempts.RegisterFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}
